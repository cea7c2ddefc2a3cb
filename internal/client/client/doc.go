// Package client is the client side's view of the remote bug store.
//
// # Overview
//
// Client is the transport-agnostic contract used by the sync engine:
// List, Insert, Update, Delete and TestConnection over domain records.
// RESTClient implements it against a PostgREST-compatible HTTP endpoint.
//
// The remote table keys rows by a 32-bit numeric hash of the domain id
// (SurrogateKey) and keeps the domain id in original_id, so callers only
// ever see domain ids.
//
// # Error Handling
//
// Failures are reported as sentinels matched with errors.Is:
// ErrNotConfigured, ErrUnreachable, ErrSchemaMismatch, ErrUnauthorized,
// ErrNotFound and ErrUnknown. A client with missing or placeholder
// credentials returns ErrNotConfigured from every method without touching
// the network.
//
// # Local database
//
// InitDatabase opens the client's SQLite file and applies the embedded
// goose migrations; the metadata repository and the cache live on top of it.
package client
