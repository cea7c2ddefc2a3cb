package services

import (
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
)

// State is the lifecycle of the engine's working set.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Status is derived engine state. It is never persisted.
type Status struct {
	State      State
	Online     bool
	Syncing    bool
	LastSync   *time.Time
	Configured bool
	// FromCache is true until the first successful remote read.
	FromCache bool
	LastError string
}

// Snapshot is what subscribers see: the sorted working set, its stats and
// the status at the moment of publication.
type Snapshot struct {
	Records []models.BugRecord
	Stats   models.Stats
	Status  Status
}

func (s Status) clone() Status {
	if s.LastSync != nil {
		t := *s.LastSync
		s.LastSync = &t
	}
	return s
}
