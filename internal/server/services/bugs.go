// Package services contains server-side business logic. BugService backs the
// REST table endpoint: it validates rows, runs read-modify-write patches in a
// transaction and publishes every committed change.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/dbx"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/dmitrijs2005/bugtracker/internal/server/models"
	"github.com/dmitrijs2005/bugtracker/internal/server/repositories/bugs"
	"github.com/dmitrijs2005/bugtracker/internal/server/repositories/repomanager"
)

var (
	ErrInvalidRow    = errors.New("invalid row")
	ErrUnknownColumn = errors.New("unknown column")
)

var now = time.Now

// Publisher receives committed changes.
type Publisher interface {
	Publish(models.Change)
}

type BugService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   Publisher
	table       string
	logger      logging.Logger
}

func NewBugService(db *sql.DB, m repomanager.RepositoryManager, p Publisher, table string, logger logging.Logger) *BugService {
	return &BugService{db: db, repomanager: m, publisher: p, table: table, logger: logger}
}

// Table is the public name rows are served under.
func (s *BugService) Table() string { return s.table }

func (s *BugService) List(ctx context.Context, q bugs.ListQuery) ([]models.Bug, error) {
	return s.repomanager.Bugs(s.db).List(ctx, q)
}

// Insert stores a new row. A missing user_id becomes the shared tenant and a
// missing created_at the current time.
func (s *BugService) Insert(ctx context.Context, b *models.Bug) (*models.Bug, error) {
	if b.UserID == "" {
		b.UserID = common.SharedTenant
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now().UTC()
	}
	if err := validate(b); err != nil {
		return nil, err
	}

	out, err := s.repomanager.Bugs(s.db).Insert(ctx, b)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.ChangeInsert, out.ID)
	return out, nil
}

// Patch overlays fields onto the row id. A missing row yields
// bugs.ErrNotFound.
func (s *BugService) Patch(ctx context.Context, id int64, fields map[string]json.RawMessage) (*models.Bug, error) {
	for k := range fields {
		if !slices.Contains(models.Columns, k) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, k)
		}
	}

	var out *models.Bug
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Bugs(tx)
		cur, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		merged, err := merge(cur, fields)
		if err != nil {
			return err
		}
		out, err = repo.Update(ctx, merged)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.ChangeUpdate, id)
	return out, nil
}

// Delete removes the row id and reports whether it existed.
func (s *BugService) Delete(ctx context.Context, id int64) (bool, error) {
	ok, err := s.repomanager.Bugs(s.db).Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.publish(ctx, models.ChangeDelete, id)
	}
	return ok, nil
}

func (s *BugService) publish(ctx context.Context, t models.ChangeType, id int64) {
	s.logger.Debug(ctx, "row changed", "type", t, "id", id)
	if s.publisher != nil {
		s.publisher.Publish(models.Change{Type: t, Table: s.table, ID: id, At: now().UTC()})
	}
}

func merge(cur *models.Bug, fields map[string]json.RawMessage) (*models.Bug, error) {
	base, err := json.Marshal(cur)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	maps.Copy(m, fields)

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := &models.Bug{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	if out.ID != cur.ID {
		return nil, fmt.Errorf("%w: id cannot change", ErrInvalidRow)
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func validate(b *models.Bug) error {
	var missing []string
	if b.ID == 0 {
		missing = append(missing, "id")
	}
	for _, f := range []struct{ name, v string }{
		{"original_id", b.OriginalID},
		{"title", b.Title},
		{"category", b.Category},
		{"priority", b.Priority},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRow, strings.Join(missing, ", "))
	}
	return nil
}
