// Package models defines the bug record handled by the sync engine, the
// cache and the remote store client, together with the list helpers the CLI
// renders from.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category classifies what part of the product a bug affects.
type Category string

const (
	CategoryInterface   Category = "interface"
	CategoryUX          Category = "ux"
	CategoryLogic       Category = "logic"
	CategoryPerformance Category = "performance"
	CategorySecurity    Category = "security"
	CategoryOther       Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryInterface, CategoryUX, CategoryLogic,
	CategoryPerformance, CategorySecurity, CategoryOther,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func (p Priority) Valid() bool {
	for _, k := range Priorities {
		if p == k {
			return true
		}
	}
	return false
}

// Platform is the kind of device a bug was reported from. The zero value
// means "not recorded".
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

var Platforms = []Platform{PlatformAndroid, PlatformIOS, PlatformWeb, PlatformDesktop, PlatformUnknown}

// Valid accepts the empty platform as well as every known value.
func (p Platform) Valid() bool {
	if p == "" {
		return true
	}
	for _, k := range Platforms {
		if p == k {
			return true
		}
	}
	return false
}

// ErrInvalidRecord wraps every validation failure of a Draft or Patch.
var ErrInvalidRecord = errors.New("invalid bug record")

// BugRecord is the single domain entity. FixedAt is set exactly when IsFixed
// is true.
type BugRecord struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Category       Category   `json:"category"`
	Priority       Priority   `json:"priority"`
	IsFixed        bool       `json:"isFixed"`
	CreatedAt      time.Time  `json:"createdAt"`
	FixedAt        *time.Time `json:"fixedAt,omitempty"`
	Screenshot     string     `json:"screenshot,omitempty"`
	Platform       Platform   `json:"platform,omitempty"`
	DeviceInfo     string     `json:"deviceInfo,omitempty"`
	Version        string     `json:"version"`
	CreatedBy      string     `json:"createdBy"`
	LastModifiedBy string     `json:"lastModifiedBy,omitempty"`
	LastModifiedAt *time.Time `json:"lastModifiedAt,omitempty"`
}

// Draft carries the user-supplied fields of a new record. Everything else is
// stamped by the engine.
type Draft struct {
	Title       string
	Description string
	Category    Category
	Priority    Priority
	Screenshot  string
	Platform    Platform
	DeviceInfo  string
}

// Validate trims the title and checks enum values. Missing category and
// priority default to "other" and "medium".
func (d *Draft) Validate() error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRecord)
	}
	if d.Category == "" {
		d.Category = CategoryOther
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	return validateEnums(d.Category, d.Priority, d.Platform)
}

// Patch lists the fields an update may change. Nil means "leave as is".
type Patch struct {
	Title       *string
	Description *string
	Category    *Category
	Priority    *Priority
	IsFixed     *bool
	Screenshot  *string
	Platform    *Platform
	DeviceInfo  *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil &&
		p.Priority == nil && p.IsFixed == nil && p.Screenshot == nil &&
		p.Platform == nil && p.DeviceInfo == nil
}

// TogglesFixed reports whether applying p to r flips its fixed flag.
func (p Patch) TogglesFixed(r BugRecord) bool {
	return p.IsFixed != nil && *p.IsFixed != r.IsFixed
}

func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidRecord)
	}
	cat, pri, plat := CategoryOther, PriorityMedium, Platform("")
	if p.Category != nil {
		cat = *p.Category
	}
	if p.Priority != nil {
		pri = *p.Priority
	}
	if p.Platform != nil {
		plat = *p.Platform
	}
	return validateEnums(cat, pri, plat)
}

// Apply returns a copy of r with p applied and the derived fields updated:
// FixedAt follows IsFixed, and the modification stamp is set to by/now.
func (r BugRecord) Apply(p Patch, by string, now time.Time) BugRecord {
	out := r
	if p.Title != nil {
		out.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Screenshot != nil {
		out.Screenshot = *p.Screenshot
	}
	if p.Platform != nil {
		out.Platform = *p.Platform
	}
	if p.DeviceInfo != nil {
		out.DeviceInfo = *p.DeviceInfo
	}
	if p.IsFixed != nil {
		out.IsFixed = *p.IsFixed
	}

	switch {
	case !out.IsFixed:
		out.FixedAt = nil
	case !r.IsFixed || r.FixedAt == nil:
		t := now
		out.FixedAt = &t
	}

	m := now
	out.LastModifiedAt = &m
	out.LastModifiedBy = by
	return out
}

func validateEnums(c Category, p Priority, pl Platform) error {
	if !c.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRecord, c)
	}
	if !p.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRecord, p)
	}
	if !pl.Valid() {
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidRecord, pl)
	}
	return nil
}
