// Package services holds the client's application services: the sync engine
// that owns the bug working set, and the identity service that remembers who
// is acting.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/bugtracker/internal/dbx"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is the acting principal stamped on records.
type Identity struct {
	DisplayName string
	Role        Role
	SignedInAt  time.Time
}

// Anonymous is used when nobody has signed in.
var Anonymous = Identity{DisplayName: "anonymous", Role: RoleUser}

// IdentityProvider supplies the current principal to the engine.
type IdentityProvider interface {
	Current(ctx context.Context) Identity
}

// IdentityService persists the acting principal in the metadata table.
//
// Contract:
//   - SignIn: validate and store the principal, replacing any previous one.
//   - Current: the stored principal, or Anonymous.
//   - SignOut: forget the principal.
type IdentityService interface {
	IdentityProvider
	SignIn(ctx context.Context, displayName string, role Role) (Identity, error)
	SignOut(ctx context.Context) error
}

const (
	identityPrefix  = "identity."
	keyIdentityName = "identity.display_name"
	keyIdentityRole = "identity.role"
	keyIdentityAt   = "identity.signed_in_at"
)

type identityService struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

func NewIdentityService(db *sql.DB, logger logging.Logger) IdentityService {
	return &identityService{db: db, logger: logger.With("module", "identity"), now: time.Now}
}

func (s *identityService) SignIn(ctx context.Context, displayName string, role Role) (Identity, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return Identity{}, ErrInvalidName
	}
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	id := Identity{DisplayName: name, Role: role, SignedInAt: s.now().UTC()}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		if err := repo.Put(ctx, keyIdentityName, []byte(id.DisplayName)); err != nil {
			return err
		}
		if err := repo.Put(ctx, keyIdentityRole, []byte(id.Role)); err != nil {
			return err
		}
		return repo.Put(ctx, keyIdentityAt, []byte(id.SignedInAt.Format(time.RFC3339Nano)))
	})
	if err != nil {
		return Identity{}, fmt.Errorf("save identity: %w", err)
	}

	s.logger.Info(ctx, "signed in", "name", id.DisplayName, "role", id.Role)
	return id, nil
}

func (s *identityService) Current(ctx context.Context) Identity {
	items, err := metadata.NewSQLiteRepository(s.db).List(ctx, identityPrefix)
	if err != nil {
		s.logger.Warn(ctx, "identity read failed", "error", err)
		return Anonymous
	}
	vals := make(map[string]string, len(items))
	for _, it := range items {
		vals[it.Key] = string(it.Value)
	}

	name, ok := vals[keyIdentityName]
	if !ok {
		return Anonymous
	}
	id := Identity{DisplayName: name, Role: RoleUser}
	if role := Role(vals[keyIdentityRole]); role.Valid() {
		id.Role = role
	}
	if at, ok := vals[keyIdentityAt]; ok {
		id.SignedInAt, _ = time.Parse(time.RFC3339Nano, at)
	}
	return id
}

// SignOut removes every identity key, including ones this version no longer
// writes.
func (s *identityService) SignOut(ctx context.Context) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		items, err := repo.List(ctx, identityPrefix)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := repo.Delete(ctx, it.Key); err != nil {
				return err
			}
		}
		return nil
	})
}
