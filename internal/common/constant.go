// Package common holds the wire-level names shared by the bugsync client and
// the bugstored server: HTTP headers and paths, realtime frames and the
// change feed stream descriptor.
package common

const (
	// APIKeyHeader carries the anon key next to the Authorization header.
	APIKeyHeader = "apikey"

	RESTPrefix   = "/rest/v1/"
	RealtimePath = "/realtime/v1/websocket"

	// SharedTenant is the only user_id value ever written.
	SharedTenant = "shared"
)
