package simulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// Member is one realtime connection that can receive events.
type Member interface {
	Send(event ws.Event, data interface{}) error
}

type room struct {
	sessionID model.ID
	members   map[Member]struct{}
	stop      chan struct{}
}

// Hub groups connections into one room per session and pushes the
// countdown to each room on a ticker.
type Hub struct {
	engine *Engine
	tick   time.Duration
	log    zerolog.Logger

	mu    sync.Mutex
	rooms map[model.ID]*room
	wg    sync.WaitGroup
}

// NewHub creates a Hub that ticks every interval.
func NewHub(engine *Engine, tick time.Duration, log zerolog.Logger) *Hub {
	if tick <= 0 {
		tick = time.Second
	}
	return &Hub{
		engine: engine,
		tick:   tick,
		log:    log.With().Str("component", "hub").Logger(),
		rooms:  make(map[model.ID]*room),
	}
}

// Join adds m to the session's room after checking ownership. The member
// receives test_started and, for timed sessions, the current time_left.
func (h *Hub) Join(ctx context.Context, m Member, studentID, sessionID model.ID) error {
	sess, err := h.engine.Session(ctx, studentID, sessionID)
	if err != nil {
		return err
	}
	if sess.EndedAt != nil {
		return ErrAlreadyFinished
	}

	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if !ok {
		r = &room{sessionID: sessionID, members: make(map[Member]struct{}), stop: make(chan struct{})}
		h.rooms[sessionID] = r
		h.wg.Add(1)
		go h.run(r)
	}
	r.members[m] = struct{}{}
	h.mu.Unlock()

	if err := m.Send(ws.EventTestStarted, ws.TestStarted{SessionID: sessionID, TestID: sess.TestID}); err != nil {
		return err
	}

	clock, err := h.engine.Clock(ctx, sessionID)
	if err != nil {
		return err
	}
	if clock.Timed {
		return m.Send(ws.EventTimeLeft, ws.TimeLeft{SessionID: sessionID, TimeLeft: clock.Remaining})
	}
	return nil
}

// Leave removes m from the session's room. An empty room stops ticking.
func (h *Hub) Leave(m Member, sessionID model.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(m, sessionID)
}

// LeaveAll removes m from every room, for a closed connection.
func (h *Hub) LeaveAll(m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.rooms {
		h.removeLocked(m, id)
	}
}

// Finish stops the countdown of a session the student owns. Members stay
// connected.
func (h *Hub) Finish(ctx context.Context, studentID, sessionID model.ID) error {
	if _, err := h.engine.Session(ctx, studentID, sessionID); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[sessionID]; ok {
		h.closeLocked(r)
	}
	return nil
}

// Rooms returns the number of sessions being timed.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close stops every room and waits for the tickers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	for _, r := range h.rooms {
		h.closeLocked(r)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) removeLocked(m Member, sessionID model.ID) {
	r, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(r.members, m)
	if len(r.members) == 0 {
		h.closeLocked(r)
	}
}

func (h *Hub) closeLocked(r *room) {
	if h.rooms[r.sessionID] == r {
		delete(h.rooms, r.sessionID)
		close(r.stop)
	}
}

func (h *Hub) run(r *room) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	log := h.log.With().Str("session_id", r.sessionID.String()).Logger()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if done := h.tickRoom(r, log); done {
				h.mu.Lock()
				h.closeLocked(r)
				h.mu.Unlock()
				return
			}
		}
	}
}

// tickRoom pushes one update and reports whether the room is done.
func (h *Hub) tickRoom(r *room, log zerolog.Logger) bool {
	ctx := context.Background()
	clock, err := h.engine.Clock(ctx, r.sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return true
		}
		log.Warn().Err(err).Msg("Clock read failed")
		return false
	}
	if clock.Finished {
		return true
	}
	if !clock.Timed {
		return false
	}
	if clock.Remaining > 0 {
		h.broadcast(r, ws.EventTimeLeft, ws.TimeLeft{SessionID: r.sessionID, TimeLeft: clock.Remaining})
		return false
	}

	result, err := h.engine.Expire(ctx, r.sessionID)
	if err != nil {
		log.Error().Err(err).Msg("Expire failed")
		return false
	}
	up := ws.TimeUp{SessionID: r.sessionID, Reason: ReasonTimeout}
	if result != nil {
		s := result.Score
		up.Score = &s
	}
	h.broadcast(r, ws.EventTimeLeft, ws.TimeLeft{SessionID: r.sessionID, TimeLeft: 0})
	h.broadcast(r, ws.EventTimeUp, up)
	return true
}

func (h *Hub) broadcast(r *room, event ws.Event, data interface{}) {
	h.mu.Lock()
	members := make([]Member, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	h.mu.Unlock()

	for _, m := range members {
		if err := m.Send(event, data); err != nil {
			h.log.Debug().Err(err).Str("event", string(event)).Msg("Dropping member after failed send")
			h.Leave(m, r.sessionID)
		}
	}
}
