// Package repomanager vends the PostgreSQL repositories of the server and
// runs the embedded goose migrations.
package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/bugtracker/internal/dbx"
	"github.com/dmitrijs2005/bugtracker/internal/server/migrations"
	"github.com/dmitrijs2005/bugtracker/internal/server/repositories/bugs"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Bugs(db dbx.DBTX) bugs.Repository
}

type PostgresRepositoryManager struct{}

// Bugs returns a bugs.Repository bound to db, which may be a transaction.
func (m *PostgresRepositoryManager) Bugs(db dbx.DBTX) bugs.Repository {
	return bugs.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}
