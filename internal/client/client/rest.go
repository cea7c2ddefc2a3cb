package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/dmitrijs2005/bugtracker/internal/common"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/dmitrijs2005/bugtracker/internal/telemetry"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	PlaceholderURL = "https://your-project.supabase.co"
	PlaceholderKey = "your-anon-key-here"

	DefaultTable   = "bugs"
	DefaultTimeout = 15 * time.Second
)

// Config describes where the remote store lives.
type Config struct {
	URL     string
	APIKey  string
	Table   string
	Timeout time.Duration
}

// Configured reports whether c can be used for requests at all. Empty or
// placeholder values fail, as does a key that looks like a JWT but does not
// parse as one.
func (c Config) Configured() bool {
	u := strings.TrimSpace(c.URL)
	k := strings.TrimSpace(c.APIKey)
	if u == "" || k == "" || u == PlaceholderURL || k == PlaceholderKey {
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	if strings.Count(k, ".") == 2 {
		if _, _, err := jwt.NewParser().ParseUnverified(k, jwt.MapClaims{}); err != nil {
			return false
		}
	}
	return true
}

// RESTClient talks to a PostgREST-style endpoint:
//
//	GET    {url}/rest/v1/{table}?select=*&order=created_at.desc
//	POST   {url}/rest/v1/{table}
//	PATCH  {url}/rest/v1/{table}?id=eq.{key}
//	DELETE {url}/rest/v1/{table}?id=eq.{key}
//
// Every request carries the key in both the apikey and Authorization
// headers. Safe for concurrent use.
type RESTClient struct {
	cfg    Config
	http   *http.Client
	logger logging.Logger
	tracer trace.Tracer
}

// NewRESTClient fills in the default table and timeout. A nil httpClient
// gets a fresh one with cfg.Timeout.
func NewRESTClient(cfg Config, httpClient *http.Client, logger logging.Logger) *RESTClient {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &RESTClient{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With("module", "rest_client"),
		tracer: telemetry.Tracer("client"),
	}
}

func (c *RESTClient) List(ctx context.Context) ([]models.BugRecord, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")

	body, err := c.do(ctx, "list", http.MethodGet, q, nil)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, err
	}

	out := make([]models.BugRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Record())
	}
	return out, nil
}

func (c *RESTClient) Insert(ctx context.Context, r models.BugRecord) (models.BugRecord, error) {
	body, err := c.do(ctx, "insert", http.MethodPost, nil, ToRow(r))
	if err != nil {
		return models.BugRecord{}, err
	}

	rows, err := decodeRows(body)
	if err != nil {
		return models.BugRecord{}, err
	}
	if len(rows) == 0 {
		return r, nil
	}
	return rows[0].Record(), nil
}

// Update replaces every mutable column of the row keyed by r.ID. A filter
// that matches nothing yields ErrNotFound.
func (c *RESTClient) Update(ctx context.Context, r models.BugRecord) (models.BugRecord, error) {
	body, err := c.do(ctx, "update", http.MethodPatch, keyFilter(r.ID), ToRow(r))
	if err != nil {
		return models.BugRecord{}, err
	}

	rows, err := decodeRows(body)
	if err != nil {
		return models.BugRecord{}, err
	}
	if len(rows) == 0 {
		return models.BugRecord{}, ErrNotFound
	}
	return rows[0].Record(), nil
}

// Delete removes the row keyed by id. Missing rows are not an error.
func (c *RESTClient) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, keyFilter(id), nil)
	return err
}

// TestConnection selects at most one id, which checks reachability, the key
// and the presence of the table in a single round trip.
func (c *RESTClient) TestConnection(ctx context.Context) error {
	q := url.Values{}
	q.Set("select", "id")
	q.Set("limit", "1")
	_, err := c.do(ctx, "test_connection", http.MethodGet, q, nil)
	return err
}

func keyFilter(id string) url.Values {
	q := url.Values{}
	q.Set("id", "eq."+strconv.FormatInt(rowKey(id), 10))
	return q
}

func (c *RESTClient) do(ctx context.Context, op, method string, query url.Values, payload any) (_ []byte, err error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	ctx, span := c.tracer.Start(ctx, "remote."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("db.collection.name", c.cfg.Table),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	endpoint := c.cfg.URL + common.RESTPrefix + url.PathEscape(c.cfg.Table)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(common.APIKeyHeader, c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug(ctx, "remote request failed", "op", op, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		mapped := mapResponseError(resp.StatusCode, body)
		c.logger.Debug(ctx, "remote request rejected", "op", op, "status", resp.StatusCode, "error", mapped)
		return nil, mapped
	}
	return body, nil
}

func decodeRows(body []byte) ([]Row, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []Row{}, nil
	}
	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		var single Row
		if json.Unmarshal(body, &single) == nil && (single.ID != 0 || single.OriginalID != "") {
			return []Row{single}, nil
		}
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnknown, err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// apiError is the PostgREST error document.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

var schemaCodes = map[string]struct{}{
	"42P01":    {}, // undefined_table
	"42703":    {}, // undefined_column
	"PGRST204": {},
	"PGRST205": {},
}

// mapResponseError turns a non-2xx response into one of the package
// sentinels, keeping the server's message in the chain.
func mapResponseError(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)

	msg := ae.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	_, schemaCode := schemaCodes[ae.Code]
	lower := strings.ToLower(string(body))
	missingRelation := strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")

	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrUnauthorized
	case schemaCode || missingRelation || status == http.StatusNotFound:
		kind = ErrSchemaMismatch
	default:
		kind = ErrUnknown
	}

	if msg == "" {
		return fmt.Errorf("%w: status %d", kind, status)
	}
	return fmt.Errorf("%w: status %d: %s", kind, status, msg)
}

// IsRemoteUnavailable reports errors that mean "the store cannot be used
// right now", as opposed to a rejected request.
func IsRemoteUnavailable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrNotConfigured)
}
