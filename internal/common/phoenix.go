package common

import "encoding/json"

// Realtime channel events (Phoenix protocol, vsn 1.0.0).
const (
	EventJoin      = "phx_join"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventLeave     = "phx_leave"
	EventHeartbeat = "heartbeat"
	EventChanges   = "postgres_changes"

	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"

	PhoenixTopic = "phoenix"
)

// Frame is one realtime message in either direction.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

// ChangeTopic is the channel a client joins to hear about table.
func ChangeTopic(table string) string {
	return "realtime:public:" + table
}

// IsChangeEvent reports whether event signals a row change.
func IsChangeEvent(event string) bool {
	switch event {
	case EventChanges, EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// JoinPayload asks for every change event of one table.
type JoinPayload struct {
	Config JoinConfig `json:"config"`
}

type JoinConfig struct {
	PostgresChanges []ChangeFilter `json:"postgres_changes"`
}

type ChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// ReplyPayload is the body of a phx_reply.
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// ChangePayload is what the server sends with postgres_changes. Clients
// only use its arrival, never its content.
type ChangePayload struct {
	Data ChangeData `json:"data"`
}

type ChangeData struct {
	Schema          string `json:"schema"`
	Table           string `json:"table"`
	Type            string `json:"type"`
	CommitTimestamp string `json:"commit_timestamp"`
}
