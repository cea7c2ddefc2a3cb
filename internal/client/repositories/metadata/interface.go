// Package metadata is the client's key/value table. The bug cache snapshot
// and the signed-in identity each live under their own key.
package metadata

import (
	"context"
	"errors"
	"time"
)

var ErrKeyNotFound = errors.New("metadata key not found")

// Item is one stored value and the time it was last written.
type Item struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

type Repository interface {
	// Get returns ErrKeyNotFound when key has never been written.
	Get(ctx context.Context, key string) (Item, error)
	// Put overwrites the whole value under key.
	Put(ctx context.Context, key string, value []byte) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
	// List returns the items whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Item, error)
}
