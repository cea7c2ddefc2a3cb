package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/bugtracker/internal/server/models"
	"github.com/dmitrijs2005/bugtracker/internal/server/repositories/bugs"
)

// query is the subset of PostgREST query syntax the table supports:
// select=*|col,col  order=created_at[.asc|.desc]  limit=N  id=eq.N
type query struct {
	columns []string // nil means every column
	list    bugs.ListQuery
}

func (s *Server) parseQuery(values url.Values) (*query, *apiError) {
	table := s.svc.Table()
	q := &query{}

	for key, vals := range values {
		v := vals[len(vals)-1]
		switch key {
		case "select":
			if v == "" || v == "*" {
				continue
			}
			for _, c := range strings.Split(v, ",") {
				c = strings.TrimSpace(c)
				if !slices.Contains(models.Columns, c) {
					return nil, undefinedColumn(table, c)
				}
				q.columns = append(q.columns, c)
			}
		case "order":
			col, dir, _ := strings.Cut(v, ".")
			if col != "created_at" {
				return nil, newAPIError(http.StatusBadRequest, "PGRST100", "ordering is only supported on created_at")
			}
			switch dir {
			case "", "asc":
				q.list.Ascending = true
			case "desc":
			default:
				return nil, newAPIError(http.StatusBadRequest, "PGRST100", "failed to parse order (%s)", v)
			}
		case "limit":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, newAPIError(http.StatusBadRequest, "PGRST100", "invalid limit %q", v)
			}
			q.list.Limit = n
		case "id":
			raw, ok := strings.CutPrefix(v, "eq.")
			id, err := strconv.ParseInt(raw, 10, 64)
			if !ok || err != nil {
				return nil, newAPIError(http.StatusBadRequest, "PGRST100", "only id=eq.<int> filters are supported")
			}
			q.list.ID = &id
		case "apikey", "vsn":
		default:
			if !slices.Contains(models.Columns, key) {
				return nil, undefinedColumn(table, key)
			}
			return nil, newAPIError(http.StatusBadRequest, "PGRST100", "filter on %s is not supported", key)
		}
	}
	return q, nil
}

// project renders rows with only the selected columns.
func project(rows []models.Bug, columns []string) (any, error) {
	if columns == nil {
		return rows, nil
	}
	out := make([]map[string]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		full := map[string]json.RawMessage{}
		if err := json.Unmarshal(b, &full); err != nil {
			return nil, err
		}
		m := make(map[string]json.RawMessage, len(columns))
		for _, c := range columns {
			m[c] = full[c]
		}
		out = append(out, m)
	}
	return out, nil
}

// checkTable answers 404 for any table but the served one.
func (s *Server) checkTable(w http.ResponseWriter, r *http.Request) bool {
	if t := r.PathValue("table"); t != s.svc.Table() {
		writeError(w, undefinedTable(t))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ae := toAPIError(err, s.svc.Table())
	if ae.status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "op", op, "error", err)
	} else {
		s.logger.Debug(r.Context(), "request rejected", "op", op, "error", err)
	}
	writeError(w, ae)
}

func wantsRepresentation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Prefer"), "return=representation")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.checkTable(w, r) {
		return
	}
	q, ae := s.parseQuery(r.URL.Query())
	if ae != nil {
		writeError(w, ae)
		return
	}

	rows, err := s.svc.List(r.Context(), q.list)
	if err != nil {
		s.fail(w, r, "list", err)
		return
	}
	body, err := project(rows, q.columns)
	if err != nil {
		s.fail(w, r, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// readObjects accepts a single JSON object or an array of them and rejects
// keys that are not columns.
func (s *Server) readObjects(w http.ResponseWriter, r *http.Request) ([]map[string]json.RawMessage, *apiError) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, newAPIError(http.StatusRequestEntityTooLarge, "PGRST102", "request body too large")
	}
	raw = bytes.TrimSpace(raw)

	var objs []map[string]json.RawMessage
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &objs)
	} else {
		var one map[string]json.RawMessage
		err = json.Unmarshal(raw, &one)
		objs = append(objs, one)
	}
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "PGRST102", "invalid JSON body: %v", err)
	}

	for _, o := range objs {
		if o == nil {
			return nil, newAPIError(http.StatusBadRequest, "PGRST102", "empty JSON body")
		}
		for k := range o {
			if !slices.Contains(models.Columns, k) {
				return nil, newAPIError(http.StatusBadRequest, "PGRST204",
					"Could not find the '%s' column of '%s' in the schema cache", k, s.svc.Table())
			}
		}
	}
	return objs, nil
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	if !s.checkTable(w, r) {
		return
	}
	objs, ae := s.readObjects(w, r)
	if ae != nil {
		writeError(w, ae)
		return
	}

	out := make([]models.Bug, 0, len(objs))
	for _, o := range objs {
		b, err := decodeBug(o)
		if err != nil {
			writeError(w, newAPIError(http.StatusBadRequest, "22P02", "%s", err.Error()))
			return
		}
		got, err := s.svc.Insert(r.Context(), b)
		if err != nil {
			s.fail(w, r, "insert", err)
			return
		}
		out = append(out, *got)
	}

	if !wantsRepresentation(r) {
		w.WriteHeader(http.StatusCreated)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func decodeBug(o map[string]json.RawMessage) (*models.Bug, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	b := &models.Bug{}
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("invalid row: %w", err)
	}
	return b, nil
}

func (s *Server) keyFilter(w http.ResponseWriter, r *http.Request) (int64, bool) {
	q, ae := s.parseQuery(r.URL.Query())
	if ae == nil && q.list.ID == nil {
		ae = newAPIError(http.StatusBadRequest, "21000", "%s requires an id=eq filter", r.Method)
	}
	if ae != nil {
		writeError(w, ae)
		return 0, false
	}
	return *q.list.ID, true
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	if !s.checkTable(w, r) {
		return
	}
	id, ok := s.keyFilter(w, r)
	if !ok {
		return
	}
	objs, ae := s.readObjects(w, r)
	if ae == nil && len(objs) != 1 {
		ae = newAPIError(http.StatusBadRequest, "PGRST102", "PATCH expects a single object")
	}
	if ae != nil {
		writeError(w, ae)
		return
	}

	out := []models.Bug{}
	got, err := s.svc.Patch(r.Context(), id, objs[0])
	switch {
	case errors.Is(err, bugs.ErrNotFound):
	case err != nil:
		s.fail(w, r, "patch", err)
		return
	default:
		out = append(out, *got)
	}

	if !wantsRepresentation(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDelete succeeds whether or not the row existed.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.checkTable(w, r) {
		return
	}
	id, ok := s.keyFilter(w, r)
	if !ok {
		return
	}
	if _, err := s.svc.Delete(r.Context(), id); err != nil {
		s.fail(w, r, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
