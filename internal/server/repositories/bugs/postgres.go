// Package bugs stores bug rows in PostgreSQL.
package bugs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/bugtracker/internal/dbx"
	"github.com/dmitrijs2005/bugtracker/internal/server/models"
)

const (
	codeUndefinedTable  = "42P01"
	codeUniqueViolation = "23505"
)

var columnList = strings.Join(models.Columns, ", ")

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBug(s scanner) (*models.Bug, error) {
	b := &models.Bug{}
	err := s.Scan(
		&b.ID, &b.OriginalID, &b.Title, &b.Description, &b.Category, &b.Priority,
		&b.IsFixed, &b.CreatedAt, &b.FixedAt, &b.Screenshot, &b.Platform,
		&b.DeviceInfo, &b.UserID, &b.Version, &b.CreatedBy, &b.LastModifiedBy,
		&b.LastModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// mapError translates driver errors into the package sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUndefinedTable:
			return fmt.Errorf("%w: %s", ErrUndefinedTable, pgErr.Message)
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
		}
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *PostgresRepository) List(ctx context.Context, q ListQuery) ([]models.Bug, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT " + columnList + " FROM bugs")
	if q.ID != nil {
		args = append(args, *q.ID)
		sb.WriteString(" WHERE id = $1")
	}
	if q.Ascending {
		sb.WriteString(" ORDER BY created_at ASC")
	} else {
		sb.WriteString(" ORDER BY created_at DESC")
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []models.Bug{}
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id int64) (*models.Bug, error) {
	query := "SELECT " + columnList + ` FROM bugs
		 WHERE id = $1
		 FOR UPDATE`

	b, err := scanBug(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, b *models.Bug) (*models.Bug, error) {
	query := "INSERT INTO bugs (" + columnList + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING ` + columnList

	got, err := scanBug(r.db.QueryRowContext(ctx, query, rowArgs(b)...))
	if err != nil {
		return nil, mapError(err)
	}
	return got, nil
}

// Update overwrites every column but id of the row b.ID.
func (r *PostgresRepository) Update(ctx context.Context, b *models.Bug) (*models.Bug, error) {
	query := `UPDATE bugs SET
		 original_id = $2, title = $3, description = $4, category = $5, priority = $6,
		 is_fixed = $7, created_at = $8, fixed_at = $9, screenshot = $10, platform = $11,
		 device_info = $12, user_id = $13, version = $14, created_by = $15,
		 last_modified_by = $16, last_modified_at = $17
		 WHERE id = $1
		 RETURNING ` + columnList

	got, err := scanBug(r.db.QueryRowContext(ctx, query, rowArgs(b)...))
	if err != nil {
		return nil, mapError(err)
	}
	return got, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) (bool, error) {
	_, err := dbx.ExecAffected(ctx, r.db, `DELETE FROM bugs WHERE id = $1`, id)
	if errors.Is(err, dbx.ErrNoRowsAffected) {
		return false, nil
	}
	if err != nil {
		return false, mapError(err)
	}
	return true, nil
}

func rowArgs(b *models.Bug) []any {
	return []any{
		b.ID, b.OriginalID, b.Title, b.Description, b.Category, b.Priority,
		b.IsFixed, b.CreatedAt, b.FixedAt, b.Screenshot, b.Platform,
		b.DeviceInfo, b.UserID, b.Version, b.CreatedBy, b.LastModifiedBy,
		b.LastModifiedAt,
	}
}
