// Package httpapi serves the bug table over a PostgREST-compatible REST
// endpoint and pushes change notifications over a Phoenix-style realtime
// websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/dmitrijs2005/bugtracker/internal/server/models"
	"github.com/dmitrijs2005/bugtracker/internal/server/repositories/bugs"
)

const maxBodyBytes = 8 << 20

// BugService is the table behind /rest/v1/{table}.
type BugService interface {
	Table() string
	List(ctx context.Context, q bugs.ListQuery) ([]models.Bug, error)
	Insert(ctx context.Context, b *models.Bug) (*models.Bug, error)
	Patch(ctx context.Context, id int64, fields map[string]json.RawMessage) (*models.Bug, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Feed hands out change subscriptions.
type Feed interface {
	Subscribe() (<-chan models.Change, func())
}

type Server struct {
	svc    BugService
	hub    *Hub
	secret []byte
	logger logging.Logger
	mux    *http.ServeMux
}

type Options struct {
	// IdleTimeout drops realtime connections that send nothing, heartbeats
	// included, for this long. Zero means 2 minutes.
	IdleTimeout time.Duration
}

func NewServer(svc BugService, feed Feed, secret []byte, logger logging.Logger, opts Options) *Server {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Minute
	}
	s := &Server{
		svc:    svc,
		hub:    NewHub(feed, svc.Table(), opts.IdleTimeout, logger),
		secret: secret,
		logger: logger.With("module", "http"),
		mux:    http.NewServeMux(),
	}

	rest := common.RESTPrefix + "{table}"
	s.mux.Handle("GET "+rest, requireKey(secret, http.HandlerFunc(s.handleList)))
	s.mux.Handle("POST "+rest, requireKey(secret, http.HandlerFunc(s.handleInsert)))
	s.mux.Handle("PATCH "+rest, requireKey(secret, http.HandlerFunc(s.handlePatch)))
	s.mux.Handle("DELETE "+rest, requireKey(secret, http.HandlerFunc(s.handleDelete)))
	s.mux.Handle("GET "+common.RealtimePath, requireKey(secret, s.hub))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.observe(s.mux).ServeHTTP(w, r)
}

// Hub exposes the realtime hub so the app can close it on shutdown.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"table":            s.svc.Table(),
		"realtime_clients": s.hub.Clients(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
