// Package cache keeps the last reconciled working set on disk so the CLI can
// show something before the first remote read of a session completes.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/dmitrijs2005/bugtracker/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/bugtracker/internal/cryptox"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
)

// DefaultKey is the metadata key holding the snapshot.
const DefaultKey = "bugs.snapshot"

// sealedMagic prefixes encrypted snapshots: magic | salt | nonce | ciphertext.
var sealedMagic = []byte("BSC1")

var ErrPassphraseRequired = errors.New("cache is encrypted and no passphrase is set")

// Cache is the engine's view of local persistence.
type Cache interface {
	// Load never fails: a missing, unreadable or corrupt snapshot is an
	// empty list.
	Load(ctx context.Context) []models.BugRecord
	// Save replaces the whole snapshot.
	Save(ctx context.Context, records []models.BugRecord) error
}

type Option func(*SnapshotCache)

// WithPassphrase seals snapshots with a key derived from passphrase.
func WithPassphrase(passphrase string) Option {
	return func(c *SnapshotCache) { c.passphrase = []byte(passphrase) }
}

// SnapshotCache stores the records as one JSON document in the metadata
// table.
type SnapshotCache struct {
	repo       metadata.Repository
	logger     logging.Logger
	key        string
	passphrase []byte

	mu       sync.Mutex
	salt     []byte
	derived  []byte
	saltSeen []byte
}

func NewSnapshotCache(repo metadata.Repository, logger logging.Logger, opts ...Option) *SnapshotCache {
	c := &SnapshotCache{
		repo:   repo,
		logger: logger.With("module", "cache"),
		key:    DefaultKey,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *SnapshotCache) Load(ctx context.Context) []models.BugRecord {
	item, err := c.repo.Get(ctx, c.key)
	if errors.Is(err, metadata.ErrKeyNotFound) {
		return []models.BugRecord{}
	}
	if err != nil {
		c.logger.Warn(ctx, "cache read failed", "error", err)
		return []models.BugRecord{}
	}

	plain, err := c.open(item.Value)
	if err != nil {
		c.logger.Warn(ctx, "cache snapshot unreadable, starting empty", "error", err)
		return []models.BugRecord{}
	}

	var records []models.BugRecord
	if err := json.Unmarshal(plain, &records); err != nil {
		c.logger.Warn(ctx, "cache snapshot corrupt, starting empty", "error", err)
		return []models.BugRecord{}
	}
	return models.SortAndDedupe(records)
}

func (c *SnapshotCache) Save(ctx context.Context, records []models.BugRecord) error {
	if records == nil {
		records = []models.BugRecord{}
	}
	plain, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	value, err := c.seal(plain)
	if err != nil {
		return fmt.Errorf("seal snapshot: %w", err)
	}

	if err := c.repo.Put(ctx, c.key, value); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// SavedAt reports when the snapshot was last written.
func (c *SnapshotCache) SavedAt(ctx context.Context) (time.Time, bool) {
	item, err := c.repo.Get(ctx, c.key)
	if err != nil {
		return time.Time{}, false
	}
	return item.UpdatedAt, true
}

func (c *SnapshotCache) seal(plain []byte) ([]byte, error) {
	if len(c.passphrase) == 0 {
		return plain, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.salt == nil {
		salt, err := cryptox.NewSalt()
		if err != nil {
			return nil, err
		}
		c.salt = salt
	}
	if !bytes.Equal(c.salt, c.saltSeen) {
		c.remember(c.salt)
	}

	sealed, err := cryptox.Seal(plain, c.derived)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealedMagic)+len(c.salt)+len(sealed))
	out = append(out, sealedMagic...)
	out = append(out, c.salt...)
	return append(out, sealed...), nil
}

func (c *SnapshotCache) open(value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, sealedMagic) {
		return value, nil
	}
	if len(c.passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}

	rest := value[len(sealedMagic):]
	if len(rest) < cryptox.SaltSize {
		return nil, cryptox.ErrCiphertextTooShort
	}
	salt, sealed := rest[:cryptox.SaltSize], rest[cryptox.SaltSize:]

	c.mu.Lock()
	defer c.mu.Unlock()

	if !bytes.Equal(salt, c.saltSeen) {
		c.remember(salt)
	}
	plain, err := cryptox.Open(sealed, c.derived)
	if err != nil {
		return nil, err
	}
	// Keep writing with the salt already on disk.
	c.salt = append([]byte(nil), salt...)
	return plain, nil
}

// remember derives the key for salt. Caller holds mu.
func (c *SnapshotCache) remember(salt []byte) {
	c.saltSeen = append([]byte(nil), salt...)
	c.derived = cryptox.DeriveKey(c.passphrase, salt)
}
