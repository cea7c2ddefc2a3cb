package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/dbx"
)

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewSQLiteRepository works on either a *sql.DB or a transaction.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) (Item, error) {
	var (
		value []byte
		ms    int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT value, updated_at FROM metadata WHERE key = ?`, key).Scan(&value, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrKeyNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get metadata[%s]: %w", key, err)
	}
	return Item{Key: key, Value: value, UpdatedAt: time.UnixMilli(ms)}, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, prefix string) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM metadata WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
		likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			it Item
			ms int64
		)
		if err := rows.Scan(&it.Key, &it.Value, &ms); err != nil {
			return nil, fmt.Errorf("scan metadata row: %w", err)
		}
		it.UpdatedAt = time.UnixMilli(ms)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata rows: %w", err)
	}
	return out, nil
}

func likePrefix(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(p) + "%"
}
