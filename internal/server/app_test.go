package server

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bugtracker/internal/server/auth"
	"github.com/dmitrijs2005/bugtracker/internal/server/config"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.HTTPAddr = "127.0.0.1:0"
	c.GRPCAddr = "127.0.0.1:0"
	c.JWTSecret = "secret"
	c.Migrate = false
	c.LogLevel = "error"
	c.LogJSON = false
	c.ShutdownTimeout = time.Second
	return c
}

func withMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	orig := openDB
	openDB = func(string) (*sql.DB, error) { return db, nil }
	t.Cleanup(func() { openDB = orig })
	return mock
}

func TestIssueAnonKey(t *testing.T) {
	c := testConfig()

	key, err := IssueAnonKey(c)
	require.NoError(t, err)

	claims, err := auth.ValidateKey(key, []byte(c.JWTSecret))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAnon, claims.Role)
}

func TestNewApp_OpenError(t *testing.T) {
	orig := openDB
	openDB = func(string) (*sql.DB, error) { return nil, errors.New("bad dsn") }
	t.Cleanup(func() { openDB = orig })

	_, err := NewApp(testConfig())
	require.ErrorContains(t, err, "bad dsn")
}

func TestRun_PingFailure(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	app, err := NewApp(testConfig())
	require.NoError(t, err)

	err = app.Run(context.Background())
	require.ErrorContains(t, err, "db ping")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectPing()
	mock.ExpectClose()

	c := testConfig()
	c.GeneratedSecret = true
	app, err := NewApp(c)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("app exited too early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_BadAddress(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectPing()
	mock.ExpectClose()

	c := testConfig()
	c.HTTPAddr = "127.0.0.1:99999"
	app, err := NewApp(c)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorContains(t, err, "http server")
	case <-time.After(3 * time.Second):
		t.Fatal("app did not fail")
	}
}
