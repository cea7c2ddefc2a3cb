// Package server wires the bugstored process: the PostgreSQL store, the
// REST and realtime endpoints on HTTP and the ChangeFeed on gRPC.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/bugtracker/internal/buildinfo"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/dmitrijs2005/bugtracker/internal/server/auth"
	"github.com/dmitrijs2005/bugtracker/internal/server/changes"
	"github.com/dmitrijs2005/bugtracker/internal/server/config"
	"github.com/dmitrijs2005/bugtracker/internal/server/httpapi"
	"github.com/dmitrijs2005/bugtracker/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/bugtracker/internal/server/services"

	gs "github.com/dmitrijs2005/bugtracker/internal/server/grpc"
)

const pingTimeout = 5 * time.Second

// openDB is a seam for tests.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	broker      *changes.Broker
	bugs        *services.BugService
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.New(logging.Options{File: c.LogFile, Level: c.LogLevel, JSON: c.LogJSON})

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	broker := changes.NewBroker()

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		repomanager: m,
		broker:      broker,
		bugs:        services.NewBugService(db, m, broker, c.Table, logger),
	}, nil
}

// IssueAnonKey signs an anon key with the configured secret.
func IssueAnonKey(c *config.Config) (string, error) {
	return auth.IssueKey([]byte(c.JWTSecret), auth.RoleAnon, c.AnonKeyTTL)
}

func (app *App) prepare(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := app.db.PingContext(pctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	if app.config.Migrate {
		if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		app.logger.Info(ctx, "migrations applied")
	}

	if app.config.GeneratedSecret {
		key, err := IssueAnonKey(app.config)
		if err != nil {
			return err
		}
		app.logger.Warn(ctx, "no JWT secret configured, using a random one for this run", "anon_key", key)
	}
	return nil
}

// Run serves until ctx ends or a server fails, then shuts everything down.
func (app *App) Run(ctx context.Context) error {
	defer app.db.Close()
	defer app.broker.Close()

	app.logger.Info(ctx, "Starting app...", "version", buildinfo.Version, "table", app.config.Table)

	if err := app.prepare(ctx); err != nil {
		return err
	}

	api := httpapi.NewServer(app.bugs, app.broker, []byte(app.config.JWTSecret), app.logger, httpapi.Options{})
	httpSrv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.broker, app.config.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info(gctx, "Starting HTTP server", "address", app.config.HTTPAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info(gctx, "Stopping HTTP server...")
		api.Hub().Close()
		sctx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	g.Go(func() error {
		if err := grpcSrv.Run(gctx); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
