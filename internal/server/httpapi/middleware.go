package httpapi

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/server/auth"
	"github.com/dmitrijs2005/bugtracker/internal/telemetry"
)

var tracer = telemetry.Tracer("httpapi")

// requireKey rejects requests without a valid key. Keys are read from the
// apikey header, the Authorization bearer and the apikey query parameter
// (browsers cannot set headers on websockets); every one present must be
// valid.
func requireKey(secret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var keys []string
		if k := r.Header.Get(common.APIKeyHeader); k != "" {
			keys = append(keys, k)
		}
		if h := r.Header.Get("Authorization"); h != "" {
			k, ok := strings.CutPrefix(h, "Bearer ")
			if !ok {
				writeError(w, newAPIError(http.StatusUnauthorized, "PGRST301", "malformed authorization header"))
				return
			}
			keys = append(keys, k)
		}
		if k := r.URL.Query().Get(common.APIKeyHeader); k != "" {
			keys = append(keys, k)
		}

		if len(keys) == 0 {
			writeError(w, newAPIError(http.StatusUnauthorized, "PGRST301", "No API key found in request"))
			return
		}
		for _, k := range keys {
			if _, err := auth.ValidateKey(k, secret); err != nil {
				writeError(w, newAPIError(http.StatusUnauthorized, "PGRST301", "%s", err.Error()))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack is needed by the websocket upgrade.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(s.ResponseWriter).Hijack()
	if err == nil {
		s.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// observe wraps every request in a server span and a log line.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		s.logger.Debug(ctx, "http request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
