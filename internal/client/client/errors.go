package client

import "errors"

var (
	// ErrNotConfigured means the endpoint or key is missing or still a
	// placeholder. No request is made.
	ErrNotConfigured = errors.New("remote store not configured")
	// ErrUnreachable covers transport failures: DNS, refused connections,
	// timeouts.
	ErrUnreachable = errors.New("remote store unreachable")
	// ErrSchemaMismatch means the bugs table (or a column of it) is missing.
	ErrSchemaMismatch = errors.New("remote schema mismatch")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("record not found")
	ErrUnknown        = errors.New("unknown remote error")
)
