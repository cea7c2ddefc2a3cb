package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/dmitrijs2005/bugtracker/internal/client/screenshots"
	"github.com/dmitrijs2005/bugtracker/internal/client/services"
)

const shortIDLen = 8

// printer renders engine state for one output stream. Colors follow what
// the stream supports, so buffers get plain text.
type printer struct {
	w      io.Writer
	header lipgloss.Style
	dim    lipgloss.Style
	good   lipgloss.Style
	bad    lipgloss.Style
	warn   lipgloss.Style
	label  lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:      w,
		header: r.NewStyle().Bold(true).Padding(0, 1),
		dim:    r.NewStyle().Foreground(lipgloss.Color("8")),
		good:   r.NewStyle().Foreground(lipgloss.Color("2")),
		bad:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		warn:   r.NewStyle().Foreground(lipgloss.Color("3")),
		label:  r.NewStyle().Bold(true).Width(12),
	}
}

func (p *printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func (p *printer) records(recs []models.BugRecord, now time.Time) {
	if len(recs) == 0 {
		p.println(p.dim.Render("No bugs."))
		return
	}

	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		state := "open"
		if r.IsFixed {
			state = "fixed"
		}
		rows = append(rows, []string{
			shortID(r.ID),
			r.Title,
			string(r.Category),
			string(r.Priority),
			state,
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			r.CreatedBy,
		})
	}

	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.dim).
		Headers("ID", "TITLE", "CATEGORY", "PRIORITY", "STATE", "CREATED", "BY").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			if row < 0 || row >= len(rows) {
				return cell
			}
			switch col {
			case 3:
				switch models.Priority(rows[row][3]) {
				case models.PriorityCritical:
					return p.bad.Padding(0, 1)
				case models.PriorityHigh:
					return p.warn.Padding(0, 1)
				}
			case 4:
				if rows[row][4] == "fixed" {
					return p.good.Padding(0, 1)
				}
			}
			return cell
		})

	p.println(t.String())
}

func (p *printer) status(st services.Status, count int, now time.Time) {
	var parts []string

	switch {
	case !st.Configured:
		parts = append(parts, p.bad.Render("● not configured"))
	case st.Online:
		parts = append(parts, p.good.Render("● online"))
	default:
		parts = append(parts, p.warn.Render("○ offline"))
	}

	if st.Syncing {
		parts = append(parts, "syncing")
	}
	if st.LastSync != nil {
		parts = append(parts, "synced "+humanize.RelTime(*st.LastSync, now, "ago", "from now"))
	} else {
		parts = append(parts, "never synced")
	}
	if st.FromCache {
		parts = append(parts, p.dim.Render("showing cached data"))
	}
	parts = append(parts, fmt.Sprintf("%d bugs", count))

	p.println(strings.Join(parts, p.dim.Render(" · ")))

	if !st.Configured {
		p.println(p.dim.Render("Set remote.url and remote.api_key (BUGSYNC_REMOTE_URL, BUGSYNC_REMOTE_API_KEY) to connect."))
	} else if st.LastError != "" && !st.Online {
		p.println(p.dim.Render("last error: " + st.LastError))
	}
}

func (p *printer) stats(s models.Stats) {
	p.println(p.label.Render("Total") + fmt.Sprint(s.Total))
	p.println(p.label.Render("Fixed") + p.good.Render(fmt.Sprint(s.Fixed)))
	p.println(p.label.Render("Pending") + fmt.Sprint(s.Pending))

	if len(s.ByCategory) == 0 {
		return
	}
	cats := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)

	p.println()
	for _, c := range cats {
		p.println(p.label.Render(c) + fmt.Sprint(s.ByCategory[models.Category(c)]))
	}
}

func (p *printer) detail(r models.BugRecord) {
	field := func(name, value string) {
		if value == "" {
			return
		}
		p.println(p.label.Render(name) + value)
	}

	state := "open"
	if r.IsFixed {
		state = p.good.Render("fixed")
	}

	field("ID", r.ID)
	field("Title", r.Title)
	field("Category", string(r.Category))
	field("Priority", string(r.Priority))
	field("State", state)
	field("Created", r.CreatedAt.Local().Format(time.DateTime)+" by "+r.CreatedBy)
	if r.FixedAt != nil {
		field("Fixed", r.FixedAt.Local().Format(time.DateTime))
	}
	if r.LastModifiedAt != nil {
		field("Modified", r.LastModifiedAt.Local().Format(time.DateTime)+" by "+r.LastModifiedBy)
	}
	field("Version", r.Version)
	field("Platform", strings.TrimSpace(string(r.Platform)+" "+r.DeviceInfo))

	switch {
	case screenshots.IsRef(r.Screenshot):
		field("Screenshot", r.Screenshot)
	case r.Screenshot != "":
		field("Screenshot", humanize.Bytes(uint64(len(r.Screenshot)))+" inline")
	}

	if r.Description != "" {
		p.println()
		p.println(r.Description)
	}
}
