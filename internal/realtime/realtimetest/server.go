// Package realtimetest provides an in-process realtime server for tests.
package realtimetest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// Server accepts realtime connections, records every frame clients send and
// lets the test push events back.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	writeM sync.Mutex
	frames chan ws.Frame

	// OnFrame, when set, runs for every received frame before it is queued.
	OnFrame func(s *Server, f ws.Frame)

	hold func(r *http.Request)
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{frames: make(chan ws.Frame, 64)}
	s.upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Close stops accepting connections and closes open ones.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// HoldHandshake runs fn before each upgrade, so a test can keep a client's
// dial pending.
func (s *Server) HoldHandshake(fn func(r *http.Request)) {
	s.mu.Lock()
	s.hold = fn
	s.mu.Unlock()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	hold := s.hold
	s.mu.Unlock()
	if hold != nil {
		hold(r)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var f ws.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if s.OnFrame != nil {
			s.OnFrame(s, f)
		}
		select {
		case s.frames <- f:
		default:
		}
	}
}

// Conns returns how many connections were accepted so far.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Push sends an event to the most recent connection.
func (s *Server) Push(event ws.Event, data interface{}) error {
	s.mu.Lock()
	if len(s.conns) == 0 {
		s.mu.Unlock()
		return websocket.ErrCloseSent
	}
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()

	s.writeM.Lock()
	defer s.writeM.Unlock()
	return ws.WriteFrame(conn, event, data)
}

// DropAll closes every connection without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.UnderlyingConn().Close()
	}
}

// Next returns the next frame a client sent.
func (s *Server) Next(t testing.TB) ws.Frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for client frame")
		return ws.Frame{}
	}
}

// Expect skips frames until one with event arrives.
func (s *Server) Expect(t testing.TB, event ws.Event) ws.Frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-s.frames:
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
			return ws.Frame{}
		}
	}
}

// WaitConns blocks until n connections have been accepted.
func (s *Server) WaitConns(t testing.TB, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Conns() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d connections, got %d", n, s.Conns())
}
