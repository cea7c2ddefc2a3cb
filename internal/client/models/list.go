package models

import (
	"slices"
	"sort"
	"time"
)

// SortAndDedupe orders records by CreatedAt descending and drops repeated
// ids, keeping the first occurrence. Records with equal CreatedAt are ordered
// by id so the result does not depend on input order.
func SortAndDedupe(in []BugRecord) []BugRecord {
	seen := make(map[string]struct{}, len(in))
	out := make([]BugRecord, 0, len(in))
	for _, r := range in {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FilterByCategory returns the records in category c in a new slice. The
// empty category matches everything.
func FilterByCategory(in []BugRecord, c Category) []BugRecord {
	if c == "" {
		return slices.Clone(in)
	}
	out := make([]BugRecord, 0, len(in))
	for _, r := range in {
		if r.Category == c {
			out = append(out, r)
		}
	}
	return out
}

// CreatedSince returns the records created at or after t.
func CreatedSince(in []BugRecord, t time.Time) []BugRecord {
	out := make([]BugRecord, 0, len(in))
	for _, r := range in {
		if !r.CreatedAt.Before(t) {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the record with the given id.
func Find(in []BugRecord, id string) (BugRecord, bool) {
	for _, r := range in {
		if r.ID == id {
			return r, true
		}
	}
	return BugRecord{}, false
}

type Stats struct {
	Total      int              `json:"total"`
	Fixed      int              `json:"fixed"`
	Pending    int              `json:"pending"`
	ByCategory map[Category]int `json:"byCategory"`
}

func ComputeStats(in []BugRecord) Stats {
	s := Stats{ByCategory: make(map[Category]int)}
	for _, r := range in {
		s.Total++
		if r.IsFixed {
			s.Fixed++
		} else {
			s.Pending++
		}
		s.ByCategory[r.Category]++
	}
	return s
}
