package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dmitrijs2005/bugtracker/internal/client/client"
	"github.com/dmitrijs2005/bugtracker/internal/client/config"
	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/dmitrijs2005/bugtracker/internal/client/screenshots"
	"github.com/dmitrijs2005/bugtracker/internal/client/services"
)

// now is a test seam for rendering relative times.
var now = time.Now

type ListOptions struct {
	Category string
	Since    string
	// State is "", "open" or "fixed".
	State string
	JSON  bool
}

func (a *App) List(ctx context.Context, o ListOptions) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	cat := models.Category(o.Category)
	if cat != "" && !cat.Valid() {
		return fmt.Errorf("%w: unknown category %q", services.ErrInvalidRecord, cat)
	}
	recs := a.engine.Records(cat)

	if o.Since != "" {
		t, err := parseSince(o.Since, now())
		if err != nil {
			return err
		}
		recs = models.CreatedSince(recs, t)
	}

	switch o.State {
	case "":
	case "open", "fixed":
		want := o.State == "fixed"
		kept := make([]models.BugRecord, 0, len(recs))
		for _, r := range recs {
			if r.IsFixed == want {
				kept = append(kept, r)
			}
		}
		recs = kept
	default:
		return fmt.Errorf("unknown state %q, want open or fixed", o.State)
	}

	if o.JSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	p := newPrinter(a.out)
	p.records(recs, now())
	p.status(a.engine.Status(), len(recs), now())
	return nil
}

type AddOptions struct {
	Title          string
	Description    string
	Category       string
	Priority       string
	ScreenshotFile string
}

func (a *App) Add(ctx context.Context, o AddOptions) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	d := models.Draft{
		Title:       o.Title,
		Description: o.Description,
		Category:    models.Category(o.Category),
		Priority:    models.Priority(o.Priority),
	}
	if strings.TrimSpace(d.Title) == "" {
		if err := a.promptDraft(ctx, &d); err != nil {
			return err
		}
	}

	if o.ScreenshotFile != "" {
		shot, err := readScreenshot(o.ScreenshotFile)
		if err != nil {
			return err
		}
		d.Screenshot = shot
	}

	r, err := a.engine.Add(ctx, d)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(a.out, "Added %s %q\n", shortID(r.ID), r.Title)
	return nil
}

func (a *App) promptDraft(ctx context.Context, d *models.Draft) error {
	if a.interactive {
		return formError(runForm(ctx, draftForm(d)))
	}

	var err error
	if d.Title, err = GetSimpleText(a.in, "Title", a.out); err != nil {
		return err
	}
	if d.Description, err = GetMultiline(a.in, "Description", a.out); err != nil {
		return err
	}
	if d.Category == "" {
		c, err := GetChoice(a.in, "Category", enumStrings(models.Categories), string(models.CategoryOther), a.out)
		if err != nil {
			return err
		}
		d.Category = models.Category(c)
	}
	if d.Priority == "" {
		p, err := GetChoice(a.in, "Priority", enumStrings(models.Priorities), string(models.PriorityMedium), a.out)
		if err != nil {
			return err
		}
		d.Priority = models.Priority(p)
	}
	return nil
}

// Update applies patch, or opens an edit form when patch is empty and the
// terminal is interactive.
func (a *App) Update(ctx context.Context, idPrefix string, patch models.Patch) error {
	r, err := a.lookup(ctx, idPrefix)
	if err != nil {
		return err
	}

	if patch.Empty() {
		if !a.interactive {
			return errors.New("nothing to update")
		}
		edited := r
		if err := formError(runForm(ctx, editForm(&edited))); err != nil {
			return err
		}
		patch = diffPatch(r, edited)
	}

	updated, err := a.engine.Update(ctx, r.ID, patch)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(a.out, "Updated %s %q\n", shortID(updated.ID), updated.Title)
	return nil
}

func (a *App) SetFixed(ctx context.Context, idPrefix string, fixed bool) error {
	r, err := a.lookup(ctx, idPrefix)
	if err != nil {
		return err
	}
	updated, err := a.engine.Update(ctx, r.ID, models.Patch{IsFixed: &fixed})
	if err != nil {
		return explain(err)
	}

	verb := "Reopened"
	if updated.IsFixed {
		verb = "Fixed"
	}
	fmt.Fprintf(a.out, "%s %s %q\n", verb, shortID(updated.ID), updated.Title)
	return nil
}

func (a *App) Delete(ctx context.Context, idPrefix string, yes bool) error {
	if err := a.start(ctx); err != nil {
		return err
	}
	id, err := a.resolveID(idPrefix)
	if err != nil {
		return err
	}

	if !yes {
		if !a.interactive {
			return errors.New("refusing to delete without --yes")
		}
		ok := false
		title := "Delete " + shortID(id) + "?"
		if r, found := a.engine.Get(id); found {
			title = fmt.Sprintf("Delete %q?", r.Title)
		}
		if err := formError(runForm(ctx, confirmForm(title, &ok))); err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}

	if err := a.engine.Delete(ctx, id); err != nil {
		return explain(err)
	}
	fmt.Fprintf(a.out, "Deleted %s\n", shortID(id))
	return nil
}

type ShowOptions struct {
	// ScreenshotOut, when set, receives the resolved screenshot.
	ScreenshotOut string
	// URL prints a presigned link for offloaded screenshots.
	URL bool
}

func (a *App) Show(ctx context.Context, idPrefix string, o ShowOptions) error {
	r, err := a.lookup(ctx, idPrefix)
	if err != nil {
		return err
	}
	newPrinter(a.out).detail(r)

	if o.URL && screenshots.IsRef(r.Screenshot) && a.shots != nil {
		u, err := a.shots.URL(ctx, r.Screenshot, 15*time.Minute)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, u)
	}

	if o.ScreenshotOut != "" {
		shot, err := a.engine.Screenshot(ctx, r.ID)
		if err != nil {
			return err
		}
		if shot == "" {
			return errors.New("bug has no screenshot")
		}
		data, err := decodeScreenshot(shot)
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.ScreenshotOut, data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Screenshot written to %s\n", o.ScreenshotOut)
	}
	return nil
}

func (a *App) Stats(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}
	newPrinter(a.out).stats(a.engine.Snapshot().Stats)
	return nil
}

func (a *App) Status(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}
	snap := a.engine.Snapshot()
	p := newPrinter(a.out)
	p.status(snap.Status, len(snap.Records), now())

	who := a.identity.Current(ctx)
	p.println(p.dim.Render(fmt.Sprintf("acting as %s (%s)", who.DisplayName, who.Role)))
	if a.cache != nil {
		if at, ok := a.cache.SavedAt(ctx); ok {
			p.println(p.dim.Render("cache saved " + humanize.RelTime(at, now(), "ago", "from now")))
		} else {
			p.println(p.dim.Render("cache empty"))
		}
	}
	if a.cfg != nil {
		p.println(p.dim.Render(fmt.Sprintf("feed: %s", a.cfg.FeedMode)))
		if a.cfg.File != "" {
			p.println(p.dim.Render("config: " + a.cfg.File))
		}
	}
	return nil
}

func (a *App) Refresh(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}
	if err := a.engine.Refresh(ctx); err != nil {
		return explain(err)
	}
	fmt.Fprintf(a.out, "Synced %d bugs\n", len(a.engine.Records("")))
	return nil
}

func (a *App) SetOnline(online bool) {
	a.engine.SetOnline(online)
}

// Watch renders the list on every change until ctx is done. With the poll
// feed, edits to poll_interval in the config file apply immediately.
func (a *App) Watch(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	if a.poller != nil && a.viper != nil && a.viper.ConfigFileUsed() != "" {
		config.Watch(a.viper, func(c *config.Config) {
			a.poller.SetInterval(c.PollInterval)
			a.logger.Info(ctx, "poll interval changed", "interval", a.poller.Interval())
		}, func(err error) {
			a.logger.Warn(ctx, "config reload rejected", "error", err)
		})
	}

	updates := make(chan services.Snapshot, 1)
	unsubscribe := a.engine.Subscribe(func(s services.Snapshot) {
		// keep only the newest snapshot
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- s:
		default:
		}
	})
	defer unsubscribe()

	render := func(s services.Snapshot) {
		p := newPrinter(a.out)
		p.println()
		p.println(p.dim.Render(now().Format(time.TimeOnly)))
		p.records(s.Records, now())
		p.status(s.Status, len(s.Records), now())
	}
	render(a.engine.Snapshot())

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-updates:
			if s.Status.Syncing {
				continue
			}
			if s.Status.LastSync != nil && s.Status.LastSync.Equal(last) && s.Status.Online {
				continue
			}
			if s.Status.LastSync != nil {
				last = *s.Status.LastSync
			}
			render(s)
		}
	}
}

func (a *App) Login(ctx context.Context, name string, role services.Role) error {
	if strings.TrimSpace(name) == "" {
		if a.interactive {
			if err := formError(runForm(ctx, loginForm(&name, &role))); err != nil {
				return err
			}
		} else {
			var err error
			if name, err = GetSimpleText(a.in, "Display name", a.out); err != nil {
				return err
			}
		}
	}

	id, err := a.identity.SignIn(ctx, name, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", id.DisplayName, id.Role)
	return nil
}

func (a *App) WhoAmI(ctx context.Context) error {
	id := a.identity.Current(ctx)
	fmt.Fprintf(a.out, "%s (%s)\n", id.DisplayName, id.Role)
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.identity.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

// explain adds a hint to errors a user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, services.ErrNoConnection):
		return fmt.Errorf("%w: changes need the remote store; try again when online", err)
	case errors.Is(err, services.ErrForbidden):
		return fmt.Errorf("%w: sign in with --role admin to change the fixed state", err)
	case client.IsRemoteUnavailable(err):
		return fmt.Errorf("%w: run 'bugsync status' to check the remote store", err)
	}
	return err
}

func readScreenshot(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read screenshot: %w", err)
	}
	return "data:" + http.DetectContentType(b) + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}

// decodeScreenshot accepts data URLs and bare base64.
func decodeScreenshot(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		_, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, errors.New("malformed data URL")
		}
		s = payload
	}
	return base64.StdEncoding.DecodeString(s)
}

func enumStrings[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}
