package websocket

import "encoding/json"

// ─── Ops (Client → Gateway) ─────────────────────────────────────────

type Op string

const (
	OpGet         Op = "get"
	OpSet         Op = "set"
	OpUpdate      Op = "update"
	OpTouch       Op = "touch"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpPing        Op = "ping"
)

// Request is one store operation sent by a remote client. ID correlates the
// reply; Sub names the subscription for subscribe/unsubscribe.
type Request struct {
	ID     uint64                     `json:"id"`
	Op     Op                         `json:"op"`
	Path   string                     `json:"path,omitempty"`
	Value  json.RawMessage            `json:"value,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
	Sub    string                     `json:"sub,omitempty"`
}

// ─── Events (Gateway → Client) ──────────────────────────────────────

type Event string

const (
	EventOK       Event = "ok"
	EventValue    Event = "value"
	EventError    Event = "error"
	EventSnapshot Event = "snapshot"
	EventPong     Event = "pong"
)

// Error codes carried in Response.Code.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeForbidden  = "FORBIDDEN"
	CodeNotFound   = "NOT_FOUND"
	CodeInternal   = "INTERNAL"
)

// Response answers a Request (same ID) or, for EventSnapshot, pushes a new
// value for subscription Sub (ID is zero).
type Response struct {
	ID    uint64          `json:"id,omitempty"`
	Event Event           `json:"event"`
	Sub   string          `json:"sub,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}
