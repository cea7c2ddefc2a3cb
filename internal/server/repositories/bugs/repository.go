package bugs

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/bugtracker/internal/server/models"
)

var (
	ErrNotFound       = errors.New("bug not found")
	ErrConflict       = errors.New("bug already exists")
	ErrUndefinedTable = errors.New("bugs table does not exist")
)

// ListQuery narrows List. The zero value lists everything, newest first.
type ListQuery struct {
	ID        *int64
	Ascending bool
	// Limit caps the result when positive.
	Limit int
}

type Repository interface {
	List(ctx context.Context, q ListQuery) ([]models.Bug, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*models.Bug, error)
	Insert(ctx context.Context, b *models.Bug) (*models.Bug, error)
	Update(ctx context.Context, b *models.Bug) (*models.Bug, error)
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, id int64) (bool, error)
}
