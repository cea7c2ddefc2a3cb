package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/dmitrijs2005/bugtracker/internal/common"
)

// Row is the wire shape of one record in the bugs table.
type Row struct {
	ID             int64      `json:"id"`
	OriginalID     string     `json:"original_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	Priority       string     `json:"priority"`
	IsFixed        bool       `json:"is_fixed"`
	CreatedAt      Timestamp  `json:"created_at"`
	FixedAt        *Timestamp `json:"fixed_at"`
	Screenshot     *string    `json:"screenshot"`
	Platform       *string    `json:"platform"`
	DeviceInfo     *string    `json:"device_info"`
	UserID         string     `json:"user_id"`
	Version        string     `json:"version"`
	CreatedBy      string     `json:"created_by"`
	LastModifiedBy *string    `json:"last_modified_by"`
	LastModifiedAt *Timestamp `json:"last_modified_at"`
}

// Timestamp accepts the formats PostgREST emits for both timestamptz and
// timestamp columns. Values without an offset are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ToRow maps a domain record onto the wire schema.
func ToRow(r models.BugRecord) Row {
	return Row{
		ID:             rowKey(r.ID),
		OriginalID:     r.ID,
		Title:          r.Title,
		Description:    r.Description,
		Category:       string(r.Category),
		Priority:       string(r.Priority),
		IsFixed:        r.IsFixed,
		CreatedAt:      Timestamp{r.CreatedAt},
		FixedAt:        timestampPtr(r.FixedAt),
		Screenshot:     nullable(r.Screenshot),
		Platform:       nullable(string(r.Platform)),
		DeviceInfo:     nullable(r.DeviceInfo),
		UserID:         common.SharedTenant,
		Version:        r.Version,
		CreatedBy:      r.CreatedBy,
		LastModifiedBy: nullable(r.LastModifiedBy),
		LastModifiedAt: timestampPtr(r.LastModifiedAt),
	}
}

// Record maps a wire row back to the domain. Rows written by older clients
// may lack original_id; the surrogate key then stands in as the id.
func (row Row) Record() models.BugRecord {
	id := row.OriginalID
	if id == "" {
		id = strconv.FormatInt(row.ID, 10)
	}
	return models.BugRecord{
		ID:             id,
		Title:          row.Title,
		Description:    row.Description,
		Category:       models.Category(row.Category),
		Priority:       models.Priority(row.Priority),
		IsFixed:        row.IsFixed,
		CreatedAt:      row.CreatedAt.Time,
		FixedAt:        timePtr(row.FixedAt),
		Screenshot:     deref(row.Screenshot),
		Platform:       models.Platform(deref(row.Platform)),
		DeviceInfo:     deref(row.DeviceInfo),
		Version:        row.Version,
		CreatedBy:      row.CreatedBy,
		LastModifiedBy: deref(row.LastModifiedBy),
		LastModifiedAt: timePtr(row.LastModifiedAt),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timestampPtr(t *time.Time) *Timestamp {
	if t == nil {
		return nil
	}
	return &Timestamp{*t}
}

func timePtr(t *Timestamp) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
