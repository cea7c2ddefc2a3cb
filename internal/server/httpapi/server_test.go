package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/dmitrijs2005/bugtracker/internal/server/auth"
	"github.com/dmitrijs2005/bugtracker/internal/server/changes"
	"github.com/dmitrijs2005/bugtracker/internal/server/models"
	"github.com/dmitrijs2005/bugtracker/internal/server/repositories/bugs"
	"github.com/dmitrijs2005/bugtracker/internal/server/services"
)

// --- fakes ---

type fakeService struct {
	mu        sync.Mutex
	rows      map[int64]models.Bug
	lastQuery bugs.ListQuery
	err       error
	feed      *changes.Broker
}

func newFakeService(rows ...models.Bug) *fakeService {
	f := &fakeService{rows: map[int64]models.Bug{}}
	for _, r := range rows {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakeService) Table() string { return "bugs" }

func (f *fakeService) List(ctx context.Context, q bugs.ListQuery) ([]models.Bug, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	out := []models.Bug{}
	for _, r := range f.rows {
		if q.ID != nil && r.ID != *q.ID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeService) Insert(ctx context.Context, b *models.Bug) (*models.Bug, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if b.UserID == "" {
		b.UserID = "shared"
	}
	f.rows[b.ID] = *b
	f.notify(models.ChangeInsert, b.ID)
	return b, nil
}

func (f *fakeService) Patch(ctx context.Context, id int64, fields map[string]json.RawMessage) (*models.Bug, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cur, ok := f.rows[id]
	if !ok {
		return nil, bugs.ErrNotFound
	}
	raw, _ := json.Marshal(fields)
	if err := json.Unmarshal(raw, &cur); err != nil {
		return nil, err
	}
	f.rows[id] = cur
	f.notify(models.ChangeUpdate, id)
	return &cur, nil
}

func (f *fakeService) Delete(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.rows[id]
	delete(f.rows, id)
	if ok {
		f.notify(models.ChangeDelete, id)
	}
	return ok, nil
}

func (f *fakeService) notify(t models.ChangeType, id int64) {
	if f.feed != nil {
		f.feed.Publish(models.Change{Type: t, Table: "bugs", ID: id, At: time.Now()})
	}
}

// --- helpers ---

var secret = []byte("test-secret")

func anonKey(t *testing.T) string {
	t.Helper()
	k, err := auth.IssueKey(secret, auth.RoleAnon, time.Hour)
	require.NoError(t, err)
	return k
}

var created = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func row(id int64, title string) models.Bug {
	return models.Bug{
		ID: id, OriginalID: "orig-" + title, Title: title,
		Category: "logic", Priority: "high", CreatedAt: created, UserID: "shared",
	}
}

func newTestServer(t *testing.T, svc *fakeService) (*Server, *changes.Broker) {
	t.Helper()
	broker := changes.NewBroker()
	svc.feed = broker
	s := NewServer(svc, broker, secret, logging.Discard(), Options{})
	t.Cleanup(func() {
		s.Hub().Close()
		broker.Close()
	})
	return s, broker
}

type response struct {
	status int
	body   string
	err    apiError
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := response{status: rec.Code, body: rec.Body.String()}
	if rec.Code >= 400 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.err), rec.Body.String())
	}
	return out
}

func authed(t *testing.T, extra ...string) map[string]string {
	k := anonKey(t)
	h := map[string]string{"apikey": k, "Authorization": "Bearer " + k}
	for i := 0; i+1 < len(extra); i += 2 {
		h[extra[i]] = extra[i+1]
	}
	return h
}

// --- tests ---

func TestServer_RequiresKey(t *testing.T) {
	s, _ := newTestServer(t, newFakeService())

	res := do(t, s, http.MethodGet, "/rest/v1/bugs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, "PGRST301", res.err.Code)

	res = do(t, s, http.MethodGet, "/rest/v1/bugs", "", map[string]string{"apikey": "nope"})
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = do(t, s, http.MethodGet, "/rest/v1/bugs", "", map[string]string{"apikey": anonKey(t), "Authorization": "Basic x"})
	assert.Equal(t, http.StatusUnauthorized, res.status)

	other, err := auth.IssueKey([]byte("other"), auth.RoleAnon, time.Hour)
	require.NoError(t, err)
	res = do(t, s, http.MethodGet, "/rest/v1/bugs", "", map[string]string{"apikey": anonKey(t), "Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = do(t, s, http.MethodGet, "/rest/v1/bugs?apikey="+anonKey(t), "", nil)
	assert.Equal(t, http.StatusOK, res.status)
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, newFakeService())

	res := do(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.JSONEq(t, `{"status":"ok","table":"bugs","realtime_clients":0}`, res.body)
}

func TestServer_List(t *testing.T) {
	svc := newFakeService(row(1, "a"))
	s, _ := newTestServer(t, svc)

	res := do(t, s, http.MethodGet, "/rest/v1/bugs?select=*&order=created_at.desc", "", authed(t))
	require.Equal(t, http.StatusOK, res.status)
	var rows []models.Bug
	require.NoError(t, json.Unmarshal([]byte(res.body), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, row(1, "a"), rows[0])
	assert.False(t, svc.lastQuery.Ascending)

	res = do(t, s, http.MethodGet, "/rest/v1/bugs?select=id,title&limit=1&order=created_at", "", authed(t))
	require.Equal(t, http.StatusOK, res.status)
	assert.JSONEq(t, `[{"id":1,"title":"a"}]`, res.body)
	assert.Equal(t, 1, svc.lastQuery.Limit)
	assert.True(t, svc.lastQuery.Ascending)

	res = do(t, s, http.MethodGet, "/rest/v1/bugs?id=eq.2", "", authed(t))
	require.Equal(t, http.StatusOK, res.status)
	assert.JSONEq(t, `[]`, res.body)
}

func TestServer_UnknownTable(t *testing.T) {
	s, _ := newTestServer(t, newFakeService())

	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete} {
		res := do(t, s, m, "/rest/v1/issues?id=eq.1", `{}`, authed(t))
		assert.Equal(t, http.StatusNotFound, res.status, m)
		assert.Equal(t, "42P01", res.err.Code, m)
		assert.Equal(t, `relation "public.issues" does not exist`, res.err.Message, m)
	}
}

func TestServer_BadQuery(t *testing.T) {
	s, _ := newTestServer(t, newFakeService())

	cases := map[string]string{
		"select=nope":               "42703",
		"order=title.asc":           "PGRST100",
		"order=created_at.sideways": "PGRST100",
		"limit=-1":                  "PGRST100",
		"id=gt.1":                   "PGRST100",
		"title=eq.x":                "PGRST100",
		"severity=eq.high":          "42703",
	}
	for q, code := range cases {
		res := do(t, s, http.MethodGet, "/rest/v1/bugs?"+q, "", authed(t))
		assert.Equal(t, http.StatusBadRequest, res.status, q)
		assert.Equal(t, code, res.err.Code, q)
	}
}

func TestServer_Insert(t *testing.T) {
	svc := newFakeService()
	s, _ := newTestServer(t, svc)

	body := `{"id":5,"original_id":"x","title":"Crash","category":"ui","priority":"low","created_at":"2025-05-10T12:00:00Z"}`
	res := do(t, s, http.MethodPost, "/rest/v1/bugs", body, authed(t, "Prefer", "return=representation"))
	require.Equal(t, http.StatusCreated, res.status)

	var rows []models.Bug
	require.NoError(t, json.Unmarshal([]byte(res.body), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "shared", rows[0].UserID)
	assert.Contains(t, svc.rows, int64(5))

	res = do(t, s, http.MethodPost, "/rest/v1/bugs", `[{"id":6,"title":"b"},{"id":7,"title":"c"}]`, authed(t))
	assert.Equal(t, http.StatusCreated, res.status)
	assert.Empty(t, res.body)
	assert.Len(t, svc.rows, 3)
}

func TestServer_InsertErrors(t *testing.T) {
	svc := newFakeService()
	s, _ := newTestServer(t, svc)

	res := do(t, s, http.MethodPost, "/rest/v1/bugs", `{"id":1,"severity":"x"}`, authed(t))
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "PGRST204", res.err.Code)

	res = do(t, s, http.MethodPost, "/rest/v1/bugs", `{"id":`, authed(t))
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "PGRST102", res.err.Code)

	res = do(t, s, http.MethodPost, "/rest/v1/bugs", `{"id":"one"}`, authed(t))
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "22P02", res.err.Code)

	mapped := []struct {
		err    error
		status int
		code   string
	}{
		{bugs.ErrConflict, http.StatusConflict, "23505"},
		{services.ErrInvalidRow, http.StatusBadRequest, "23502"},
		{services.ErrUnknownColumn, http.StatusBadRequest, "PGRST204"},
		{bugs.ErrUndefinedTable, http.StatusNotFound, "42P01"},
		{errors.New("db down"), http.StatusInternalServerError, "XX000"},
	}
	for _, m := range mapped {
		svc.err = m.err
		res = do(t, s, http.MethodPost, "/rest/v1/bugs", `{"id":1}`, authed(t))
		assert.Equal(t, m.status, res.status, m.err.Error())
		assert.Equal(t, m.code, res.err.Code, m.err.Error())
	}
	assert.Equal(t, "internal error", res.err.Message)
}

func TestServer_Patch(t *testing.T) {
	svc := newFakeService(row(1, "a"))
	s, _ := newTestServer(t, svc)
	prefer := authed(t, "Prefer", "return=representation")

	res := do(t, s, http.MethodPatch, "/rest/v1/bugs?id=eq.1", `{"is_fixed":true}`, prefer)
	require.Equal(t, http.StatusOK, res.status)
	var rows []models.Bug
	require.NoError(t, json.Unmarshal([]byte(res.body), &rows))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsFixed)

	res = do(t, s, http.MethodPatch, "/rest/v1/bugs?id=eq.9", `{"title":"x"}`, prefer)
	require.Equal(t, http.StatusOK, res.status)
	assert.JSONEq(t, `[]`, res.body)

	res = do(t, s, http.MethodPatch, "/rest/v1/bugs?id=eq.1", `{"title":"b"}`, authed(t))
	assert.Equal(t, http.StatusNoContent, res.status)
	assert.Equal(t, "b", svc.rows[1].Title)

	res = do(t, s, http.MethodPatch, "/rest/v1/bugs", `{"title":"x"}`, prefer)
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "21000", res.err.Code)

	res = do(t, s, http.MethodPatch, "/rest/v1/bugs?id=eq.1", `[{"title":"x"},{"title":"y"}]`, prefer)
	assert.Equal(t, http.StatusBadRequest, res.status)
}

func TestServer_Delete(t *testing.T) {
	svc := newFakeService(row(1, "a"))
	s, _ := newTestServer(t, svc)

	res := do(t, s, http.MethodDelete, "/rest/v1/bugs?id=eq.1", "", authed(t))
	assert.Equal(t, http.StatusNoContent, res.status)
	assert.Empty(t, svc.rows)

	res = do(t, s, http.MethodDelete, "/rest/v1/bugs?id=eq.1", "", authed(t))
	assert.Equal(t, http.StatusNoContent, res.status)

	res = do(t, s, http.MethodDelete, "/rest/v1/bugs", "", authed(t))
	assert.Equal(t, http.StatusBadRequest, res.status)

	svc.err = errors.New("db down")
	res = do(t, s, http.MethodDelete, "/rest/v1/bugs?id=eq.1", "", authed(t))
	assert.Equal(t, http.StatusInternalServerError, res.status)
}
