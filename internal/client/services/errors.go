package services

import (
	"errors"

	"github.com/dmitrijs2005/bugtracker/internal/client/client"
	"github.com/dmitrijs2005/bugtracker/internal/client/models"
)

var (
	// ErrNoConnection rejects mutations while the engine is offline.
	ErrNoConnection = errors.New("no connection to remote store")
	// ErrForbidden rejects a fixed/unfixed toggle by a non-admin identity.
	ErrForbidden      = errors.New("only admins may change the fixed state")
	ErrAlreadyStarted = errors.New("engine already started")
	ErrInvalidName    = errors.New("display name must not be empty")
	ErrInvalidRole    = errors.New("unknown role")

	ErrNotFound      = client.ErrNotFound
	ErrInvalidRecord = models.ErrInvalidRecord
)
