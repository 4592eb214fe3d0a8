package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteTyped sends a strongly-typed payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteFrame wraps data in a Frame and sends it. A nil data sends no payload.
func WriteFrame(conn *websocket.Conn, event Event, data interface{}) error {
	frame, err := NewFrame(event, data)
	if err != nil {
		return err
	}
	return WriteTyped(conn, frame)
}

// WriteError sends a typed error event over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteFrame(conn, EventError, ErrorEvent{Error: errMsg})
}

// NewFrame encodes data into a Frame.
func NewFrame(event Event, data interface{}) (Frame, error) {
	frame := Frame{Event: event}
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		frame.Data = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
		}
		frame.Data = raw
	}
	return frame, nil
}

// ReadFrame reads and decodes one Frame.
// It sets a read deadline.
func ReadFrame(conn *websocket.Conn, f *Frame) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(f)
}
