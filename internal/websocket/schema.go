package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Event names a frame on the realtime channel.
type Event string

// ─── Actions (Client → Server) ──────────────────────────────────────

const (
	EventJoinSession   Event = "join_session"
	EventLeaveSession  Event = "leave_session"
	EventFinishSession Event = "session:finish"
)

// ─── Events (Server → Client) ───────────────────────────────────────

const (
	EventTestStarted Event = "test_started"
	EventTimeLeft    Event = "time_left"
	EventTimeUp      Event = "time_up"
	EventError       Event = "error"
)

// ─── Transport lifecycle (local only, never on the wire) ────────────

const (
	EventConnect      Event = "connect"
	EventDisconnect   Event = "disconnect"
	EventConnectError Event = "connect_error"
	EventReconnect    Event = "reconnect"
)

// Frame is the envelope of every message on the socket.
type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinSession and LeaveSession frames carry the bare session id string as
// data, not an object.

// FinishSession is sent when the client ends a session.
type FinishSession struct {
	SessionID model.ID `json:"sessionId"`
}

// TestStarted confirms the client joined the session's room.
type TestStarted struct {
	SessionID model.ID `json:"sessionId"`
	TestID    model.ID `json:"testId"`
}

// TimeLeft is the server's authoritative remaining time, in milliseconds.
type TimeLeft struct {
	SessionID model.ID `json:"sessionId"`
	TimeLeft  int64    `json:"timeLeft"`
}

// TimeUp is pushed once the session's time has run out.
type TimeUp struct {
	SessionID model.ID `json:"sessionId"`
	Score     *float64 `json:"score,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// ErrorEvent reports a rejected action.
type ErrorEvent struct {
	Error string `json:"error"`
}

// DisconnectInfo describes an unexpected drop.
type DisconnectInfo struct {
	Reason string `json:"reason"`
}

// ConnectError describes a failed dial.
type ConnectError struct {
	Error string `json:"error"`
}

// ReconnectInfo is delivered after the transport re-established a dropped connection.
type ReconnectInfo struct {
	Attempt int `json:"attempt"`
}
