package client

import (
	"context"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
)

// Client is the contract the sync engine uses to talk to the remote store.
// Implementations never expose the numeric surrogate key; ids are always
// domain ids.
type Client interface {
	List(ctx context.Context) ([]models.BugRecord, error)
	Insert(ctx context.Context, r models.BugRecord) (models.BugRecord, error)
	Update(ctx context.Context, r models.BugRecord) (models.BugRecord, error)
	Delete(ctx context.Context, id string) error
	TestConnection(ctx context.Context) error
}
