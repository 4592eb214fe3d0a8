// Package timer binds one test session to the realtime channel and exposes
// the server-pushed countdown. The server is the only authority on remaining
// time; nothing here decrements a local clock.
package timer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/realtime"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// Channel is the part of realtime.Channel the adapter depends on.
type Channel interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Generation() uint64
	Emit(event ws.Event, payload interface{}) error
	Off(event ws.Event, subs ...realtime.Subscription)
	OnConnect(fn func()) realtime.Subscription
	OnReconnect(fn func(ws.ReconnectInfo)) realtime.Subscription
	OnTestStarted(fn func(ws.TestStarted)) realtime.Subscription
	OnTimeLeft(fn func(ws.TimeLeft)) realtime.Subscription
	OnTimeUp(fn func(ws.TimeUp)) realtime.Subscription
}

// Options toggles the adapter's automatic behaviour.
type Options struct {
	AutoConnect bool
	AutoJoin    bool
}

// DefaultOptions enables auto-connect and auto-join.
func DefaultOptions() Options {
	return Options{AutoConnect: true, AutoJoin: true}
}

// State is a snapshot of the timer. Total and Remaining are nil until the
// first time_left event arrives.
type State struct {
	Total     *int
	Remaining *int
	Joined    bool
	Expired   bool
}

// TimeUp reports whether the server has declared the session's time over.
func (s State) TimeUp() bool {
	return s.Expired || (s.Remaining != nil && *s.Remaining == 0)
}

type subscription struct {
	event ws.Event
	id    realtime.Subscription
}

// Adapter tracks the countdown of a single session.
type Adapter struct {
	ch        Channel
	sessionID model.ID
	opts      Options
	log       zerolog.Logger

	mu        sync.Mutex
	state     State
	joinedGen uint64
	started   bool
	subs      []subscription
	watchers  []func(State)
}

// New creates an adapter for sessionID. An empty session id makes the
// adapter inert.
func New(ch Channel, sessionID model.ID, opts Options, log zerolog.Logger) *Adapter {
	return &Adapter{
		ch:        ch,
		sessionID: sessionID,
		opts:      opts,
		log: log.With().
			Str("component", "exam_timer").
			Str("session_id", sessionID.String()).
			Logger(),
	}
}

// SessionID returns the session the adapter is bound to.
func (a *Adapter) SessionID() model.ID { return a.sessionID }

// OnChange registers fn to be called with the new state after every timer
// event. Register before Start.
func (a *Adapter) OnChange(fn func(State)) {
	a.mu.Lock()
	a.watchers = append(a.watchers, fn)
	a.mu.Unlock()
}

// State returns a copy of the current timer state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

// Start subscribes to the channel, connects when AutoConnect is set and
// joins when AutoJoin is set. Connection errors are logged only; the channel
// reports them to its own listeners. Calling Start twice is a no-op.
func (a *Adapter) Start(ctx context.Context) {
	if a.sessionID.IsZero() {
		return
	}

	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	a.subscribe()

	if a.opts.AutoConnect && !a.ch.IsConnected() {
		if err := a.ch.Connect(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Timer could not connect, waiting for reconnect")
			return
		}
	}
	a.autoJoin()
}

// Stop removes the adapter's listeners. The shared channel stays open.
func (a *Adapter) Stop() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.started = false
	a.mu.Unlock()

	for _, s := range subs {
		a.ch.Off(s.event, s.id)
	}
}

// Join asks the server to put this client in the session's room. It is a
// no-op without a session id or a connection.
func (a *Adapter) Join() {
	if a.sessionID.IsZero() || !a.ch.IsConnected() {
		return
	}
	gen := a.ch.Generation()
	if err := a.ch.Emit(ws.EventJoinSession, a.sessionID.String()); err != nil {
		a.log.Warn().Err(err).Msg("Join session failed")
		return
	}

	a.mu.Lock()
	a.joinedGen = gen
	a.mu.Unlock()
	a.log.Debug().Uint64("generation", gen).Msg("Join session sent")
}

// Leave leaves the session's room.
func (a *Adapter) Leave() {
	if a.sessionID.IsZero() {
		return
	}
	if err := a.ch.Emit(ws.EventLeaveSession, a.sessionID.String()); err != nil {
		a.log.Debug().Err(err).Msg("Leave session not sent")
	}

	a.update(func(s *State) { s.Joined = false })
}

// Finish tells the server the client has ended the session.
func (a *Adapter) Finish() {
	if a.sessionID.IsZero() {
		return
	}
	if err := a.ch.Emit(ws.EventFinishSession, ws.FinishSession{SessionID: a.sessionID}); err != nil {
		a.log.Debug().Err(err).Msg("Finish session not sent")
	}
}

func (a *Adapter) subscribe() {
	subs := []subscription{
		{ws.EventConnect, a.ch.OnConnect(a.autoJoin)},
		{ws.EventReconnect, a.ch.OnReconnect(a.handleReconnect)},
		{ws.EventTestStarted, a.ch.OnTestStarted(a.handleTestStarted)},
		{ws.EventTimeLeft, a.ch.OnTimeLeft(a.handleTimeLeft)},
		{ws.EventTimeUp, a.ch.OnTimeUp(a.handleTimeUp)},
	}

	a.mu.Lock()
	a.subs = subs
	a.mu.Unlock()
}

// autoJoin joins at most once per connection generation.
func (a *Adapter) autoJoin() {
	if !a.opts.AutoJoin || !a.ch.IsConnected() {
		return
	}

	a.mu.Lock()
	skip := a.state.Joined || a.state.Expired || a.joinedGen == a.ch.Generation()
	a.mu.Unlock()
	if skip {
		return
	}
	a.Join()
}

func (a *Adapter) handleReconnect(info ws.ReconnectInfo) {
	a.mu.Lock()
	rejoin := a.state.Joined && !a.state.Expired && a.joinedGen != a.ch.Generation()
	a.mu.Unlock()

	if rejoin {
		a.log.Info().Int("attempt", info.Attempt).Msg("Rejoining session after reconnect")
		a.Join()
	}
}

func (a *Adapter) handleTestStarted(ev ws.TestStarted) {
	if ev.SessionID != a.sessionID {
		return
	}
	a.update(func(s *State) { s.Joined = true })
}

func (a *Adapter) handleTimeLeft(ev ws.TimeLeft) {
	if ev.SessionID != a.sessionID {
		return
	}
	remaining := secondsFromMillis(ev.TimeLeft)
	a.update(func(s *State) {
		if s.Total == nil {
			total := remaining
			s.Total = &total
		}
		s.Remaining = &remaining
	})
}

func (a *Adapter) handleTimeUp(ev ws.TimeUp) {
	if ev.SessionID != a.sessionID {
		return
	}
	a.log.Info().Str("reason", ev.Reason).Msg("Session time is up")

	zero := 0
	a.update(func(s *State) {
		s.Remaining = &zero
		s.Joined = false
		s.Expired = true
	})
}

func (a *Adapter) update(fn func(*State)) {
	a.mu.Lock()
	fn(&a.state)
	snap := a.state.clone()
	watchers := append([]func(State){}, a.watchers...)
	a.mu.Unlock()

	for _, w := range watchers {
		w(snap)
	}
}

func (s State) clone() State {
	out := s
	if s.Total != nil {
		v := *s.Total
		out.Total = &v
	}
	if s.Remaining != nil {
		v := *s.Remaining
		out.Remaining = &v
	}
	return out
}

// secondsFromMillis rounds up to whole seconds, floored at zero.
func secondsFromMillis(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}
