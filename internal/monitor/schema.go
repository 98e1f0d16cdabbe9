package monitor

import "time"

// ─── Signals (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionHeartbeat      Action = "heartbeat"
	ActionVisibilityLost Action = "visibility_lost"
	ActionResumed        Action = "resumed"
)

// Signal is one proctoring event reported during an attempt.
type Signal struct {
	Action Action    `json:"action"`
	Count  int       `json:"count,omitempty"`
	At     time.Time `json:"at"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventAck   Event = "ack"
	EventError Event = "error"
)

// Response is the server's acknowledgement envelope.
type Response struct {
	Event Event  `json:"event"`
	Error string `json:"error,omitempty"`
}
