// Package realtime manages the single persistent connection to the backend's
// realtime endpoint: connect/disconnect, room join/leave through Emit, and
// typed event subscription.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// ErrNotConnected is returned by Emit when there is no live connection.
// Frames are never queued.
var ErrNotConnected = errors.New("realtime: not connected")

var errClosed = errors.New("realtime: channel closed")

// Listener receives the raw data of an event. Lifecycle events carry the
// JSON encoding of the matching ws info struct, or no data.
type Listener func(data json.RawMessage)

// Subscription identifies a registered listener for Off.
type Subscription uint64

type listener struct {
	id Subscription
	fn Listener
}

// Options configures a Channel.
type Options struct {
	URL       string
	Header    http.Header
	Dialer    *websocket.Dialer
	Reconnect ReconnectPolicy
}

// Channel is the shared realtime connection. One Channel is meant to be
// shared by every consumer in the process.
type Channel struct {
	opts   Options
	dialer *websocket.Dialer
	log    zerolog.Logger

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	closing       bool
	// epoch is bumped by Disconnect; a dial started under an older epoch is
	// thrown away.
	epoch         uint64
	generation    uint64
	refs          int
	nextID        uint64
	listeners     map[ws.Event][]listener
	stopReconnect context.CancelFunc
}

// New creates a disconnected Channel.
func New(opts Options, log zerolog.Logger) *Channel {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		}
	}
	return &Channel{
		opts:      opts,
		dialer:    dialer,
		log:       log.With().Str("component", "realtime_channel").Logger(),
		listeners: make(map[ws.Event][]listener),
	}
}

// Connect dials the realtime endpoint. It is a no-op when already connected.
// A failed dial is logged, reported to connect_error listeners and returned;
// it is not retried. A Disconnect while the dial is in flight wins: the new
// connection is closed and errClosed is returned.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	epoch := c.epoch
	c.mu.Unlock()

	return c.open(ctx, 0, epoch)
}

// Disconnect closes the connection, stops any pending reconnect and clears
// every listener. It is safe to call when already disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	stop := c.stopReconnect
	c.conn = nil
	c.connected = false
	c.closing = true
	c.epoch++
	c.refs = 0
	c.stopReconnect = nil
	c.listeners = make(map[ws.Event][]listener)
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	conn.Close()

	c.log.Info().Msg("Realtime disconnected")
}

// Acquire registers a consumer and connects if needed.
func (c *Channel) Acquire(ctx context.Context) error {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Release unregisters a consumer; the last one out disconnects.
func (c *Channel) Release() {
	c.mu.Lock()
	if c.refs > 0 {
		c.refs--
	}
	last := c.refs == 0
	c.mu.Unlock()

	if last {
		c.Disconnect()
	}
}

// IsConnected reports whether a connection is live.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Socket returns the underlying connection, or nil when disconnected.
// Writes must go through Emit.
func (c *Channel) Socket() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Generation counts successful connects, including reconnects.
func (c *Channel) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Emit sends one frame. It returns ErrNotConnected instead of queuing.
func (c *Channel) Emit(event ws.Event, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.log.Debug().Str("event", string(event)).Msg("Emit dropped, not connected")
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteFrame(conn, event, payload); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// On registers a listener for an event.
func (c *Channel) On(event ws.Event, fn Listener) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := Subscription(c.nextID)
	c.listeners[event] = append(c.listeners[event], listener{id: id, fn: fn})
	return id
}

// Off removes the given listeners, or every listener of the event when none
// are given.
func (c *Channel) Off(event ws.Event, subs ...Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(subs) == 0 {
		delete(c.listeners, event)
		return
	}

	kept := c.listeners[event][:0]
	for _, l := range c.listeners[event] {
		if !containsSub(subs, l.id) {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(c.listeners, event)
		return
	}
	c.listeners[event] = kept
}

// ListenerCount returns how many listeners are registered for an event.
func (c *Channel) ListenerCount(event ws.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[event])
}

func containsSub(subs []Subscription, id Subscription) bool {
	for _, s := range subs {
		if s == id {
			return true
		}
	}
	return false
}

// open dials and installs a connection. attempt > 0 marks a reconnect.
// Events are dispatched after dialMu is released so listeners may call
// back into the channel.
func (c *Channel) open(ctx context.Context, attempt int, epoch uint64) error {
	installed, err := c.dial(ctx, attempt, epoch)
	if err != nil {
		if !errors.Is(err, errClosed) {
			c.dispatch(ws.EventConnectError, ws.ConnectError{Error: err.Error()})
		}
		return err
	}
	if !installed {
		return nil
	}

	c.dispatch(ws.EventConnect, nil)
	if attempt > 0 {
		c.dispatch(ws.EventReconnect, ws.ReconnectInfo{Attempt: attempt})
	}
	return nil
}

func (c *Channel) dial(ctx context.Context, attempt int, epoch uint64) (bool, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return false, nil
	}
	if c.closing || c.epoch != epoch {
		c.mu.Unlock()
		return false, errClosed
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		c.log.Warn().Err(err).Int("attempt", attempt).Str("url", c.opts.URL).Msg("Realtime connect error")
		return false, fmt.Errorf("dial realtime: %w", err)
	}

	c.mu.Lock()
	if c.closing || c.epoch != epoch {
		c.mu.Unlock()
		conn.Close()
		return false, errClosed
	}
	c.conn = conn
	c.connected = true
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.readLoop(conn)

	c.log.Info().Uint64("generation", gen).Int("attempt", attempt).Msg("Realtime connected")
	return true, nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var frame ws.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			c.handleDrop(conn, err)
			return
		}
		if frame.Event == "" {
			continue
		}
		c.dispatch(frame.Event, frame.Data)
	}
}

// handleDrop runs when the read loop of conn ends. Drops caused by
// Disconnect are ignored; anything else is reported and handed to the
// reconnect policy.
func (c *Channel) handleDrop(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closing := c.closing
	c.mu.Unlock()

	conn.Close()
	if closing {
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		c.log.Warn().Err(err).Msg("Realtime connection lost")
	} else {
		c.log.Info().Err(err).Msg("Realtime connection closed by server")
	}
	c.dispatch(ws.EventDisconnect, ws.DisconnectInfo{Reason: err.Error()})

	if c.opts.Reconnect.Enabled {
		go c.reconnect()
	}
}

func (c *Channel) dispatch(event ws.Event, payload interface{}) {
	var data json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		data = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			c.log.Error().Err(err).Str("event", string(event)).Msg("Encode local event")
			return
		}
		data = raw
	}

	c.mu.Lock()
	ls := append([]listener(nil), c.listeners[event]...)
	c.mu.Unlock()

	for _, l := range ls {
		l.fn(data)
	}
}

// ─── Typed subscriptions ────────────────────────────────────────────

func subscribe[T any](c *Channel, event ws.Event, fn func(T)) Subscription {
	return c.On(event, func(data json.RawMessage) {
		var v T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &v); err != nil {
				c.log.Warn().Err(err).Str("event", string(event)).Msg("Malformed event payload")
				return
			}
		}
		fn(v)
	})
}

// OnTestStarted subscribes to test_started.
func (c *Channel) OnTestStarted(fn func(ws.TestStarted)) Subscription {
	return subscribe(c, ws.EventTestStarted, fn)
}

// OnTimeLeft subscribes to time_left.
func (c *Channel) OnTimeLeft(fn func(ws.TimeLeft)) Subscription {
	return subscribe(c, ws.EventTimeLeft, fn)
}

// OnTimeUp subscribes to time_up.
func (c *Channel) OnTimeUp(fn func(ws.TimeUp)) Subscription {
	return subscribe(c, ws.EventTimeUp, fn)
}

// OnConnect subscribes to successful connects, including reconnects.
func (c *Channel) OnConnect(fn func()) Subscription {
	return c.On(ws.EventConnect, func(json.RawMessage) { fn() })
}

// OnDisconnect subscribes to unexpected drops.
func (c *Channel) OnDisconnect(fn func(ws.DisconnectInfo)) Subscription {
	return subscribe(c, ws.EventDisconnect, fn)
}

// OnConnectError subscribes to failed dials.
func (c *Channel) OnConnectError(fn func(ws.ConnectError)) Subscription {
	return subscribe(c, ws.EventConnectError, fn)
}

// OnReconnect subscribes to re-established connections.
func (c *Channel) OnReconnect(fn func(ws.ReconnectInfo)) Subscription {
	return subscribe(c, ws.EventReconnect, fn)
}
