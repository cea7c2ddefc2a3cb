// Package models defines server-side data models persisted in the database.
package models

import "time"

// Bug is one row of the bugs table. JSON names are the column names, which
// is also the REST wire format.
type Bug struct {
	ID             int64      `json:"id"`
	OriginalID     string     `json:"original_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	Priority       string     `json:"priority"`
	IsFixed        bool       `json:"is_fixed"`
	CreatedAt      time.Time  `json:"created_at"`
	FixedAt        *time.Time `json:"fixed_at"`
	Screenshot     *string    `json:"screenshot"`
	Platform       *string    `json:"platform"`
	DeviceInfo     *string    `json:"device_info"`
	UserID         string     `json:"user_id"`
	Version        string     `json:"version"`
	CreatedBy      string     `json:"created_by"`
	LastModifiedBy *string    `json:"last_modified_by"`
	LastModifiedAt *time.Time `json:"last_modified_at"`
}

// Columns lists the table columns in declaration order.
var Columns = []string{
	"id", "original_id", "title", "description", "category", "priority",
	"is_fixed", "created_at", "fixed_at", "screenshot", "platform",
	"device_info", "user_id", "version", "created_by", "last_modified_by",
	"last_modified_at",
}

// ChangeType names a row mutation.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is published after every committed mutation.
type Change struct {
	Type  ChangeType
	Table string
	ID    int64
	At    time.Time
}
