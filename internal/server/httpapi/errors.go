package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/bugtracker/internal/server/repositories/bugs"
	"github.com/dmitrijs2005/bugtracker/internal/server/services"
)

// apiError is the error document PostgREST clients understand.
type apiError struct {
	status  int
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details"`
	Hint    *string `json:"hint"`
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func newAPIError(status int, code, format string, args ...any) *apiError {
	return &apiError{status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *apiError) withDetails(d string) *apiError {
	e.Details = &d
	return e
}

func undefinedTable(table string) *apiError {
	return newAPIError(http.StatusNotFound, "42P01", "relation \"public.%s\" does not exist", table)
}

func undefinedColumn(table, column string) *apiError {
	return newAPIError(http.StatusBadRequest, "42703", "column %s.%s does not exist", table, column)
}

func writeError(w http.ResponseWriter, e *apiError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.status)
	_ = json.NewEncoder(w).Encode(e)
}

// toAPIError maps service and repository errors onto status codes.
func toAPIError(err error, table string) *apiError {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, bugs.ErrUndefinedTable):
		return undefinedTable(table)
	case errors.Is(err, bugs.ErrConflict):
		return newAPIError(http.StatusConflict, "23505", "duplicate key value violates unique constraint").withDetails(err.Error())
	case errors.Is(err, services.ErrUnknownColumn):
		return newAPIError(http.StatusBadRequest, "PGRST204", "Could not find the column of '%s' in the schema cache", table).withDetails(err.Error())
	case errors.Is(err, services.ErrInvalidRow):
		return newAPIError(http.StatusBadRequest, "23502", "%s", err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, "XX000", "internal error")
	}
}
