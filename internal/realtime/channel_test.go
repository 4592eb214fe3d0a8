package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/realtime/realtimetest"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

func newTestChannel(url string, policy ReconnectPolicy) *Channel {
	return New(Options{URL: url, Reconnect: policy}, zerolog.Nop())
}

func TestConnectIsIdempotent(t *testing.T) {
	fs := realtimetest.NewServer(t)
	ch := newTestChannel(fs.URL(), ReconnectPolicy{})
	defer ch.Disconnect()

	var connects int
	var mu sync.Mutex
	ch.OnConnect(func() {
		mu.Lock()
		connects++
		mu.Unlock()
	})

	ctx := context.Background()
	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	fs.WaitConns(t, 1)
	if !ch.IsConnected() {
		t.Fatalf("expected connected")
	}
	if ch.Generation() != 1 {
		t.Fatalf("expected generation 1, got %d", ch.Generation())
	}
	mu.Lock()
	defer mu.Unlock()
	if connects != 1 {
		t.Fatalf("expected 1 connect event, got %d", connects)
	}
}

func TestEmitWhenDisconnected(t *testing.T) {
	ch := newTestChannel("ws://127.0.0.1:1/ws", ReconnectPolicy{})
	if err := ch.Emit(ws.EventJoinSession, "s-1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestJoinSendsBareSessionID(t *testing.T) {
	fs := realtimetest.NewServer(t)
	ch := newTestChannel(fs.URL(), ReconnectPolicy{})
	defer ch.Disconnect()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ch.Emit(ws.EventJoinSession, "s-42"); err != nil {
		t.Fatalf("emit: %v", err)
	}

	f := fs.Next(t)
	if f.Event != ws.EventJoinSession {
		t.Fatalf("expected join_session, got %s", f.Event)
	}
	if string(f.Data) != `"s-42"` {
		t.Fatalf("expected bare id string, got %s", f.Data)
	}
}

func TestTypedEventDelivery(t *testing.T) {
	fs := realtimetest.NewServer(t)
	ch := newTestChannel(fs.URL(), ReconnectPolicy{})
	defer ch.Disconnect()

	got := make(chan ws.TimeLeft, 1)
	ch.OnTimeLeft(func(tl ws.TimeLeft) { got <- tl })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fs.WaitConns(t, 1)
	if err := fs.Push(ws.EventTimeLeft, ws.TimeLeft{SessionID: "s-1", TimeLeft: 4500}); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case tl := <-got:
		if tl.SessionID != "s-1" || tl.TimeLeft != 4500 {
			t.Fatalf("unexpected payload: %+v", tl)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("time_left not delivered")
	}
}

func TestOffRemovesListeners(t *testing.T) {
	ch := newTestChannel("ws://127.0.0.1:1/ws", ReconnectPolicy{})

	a := ch.On(ws.EventTimeUp, func(json.RawMessage) {})
	ch.On(ws.EventTimeUp, func(json.RawMessage) {})
	if n := ch.ListenerCount(ws.EventTimeUp); n != 2 {
		t.Fatalf("expected 2 listeners, got %d", n)
	}

	ch.Off(ws.EventTimeUp, a)
	if n := ch.ListenerCount(ws.EventTimeUp); n != 1 {
		t.Fatalf("expected 1 listener after Off(sub), got %d", n)
	}

	ch.Off(ws.EventTimeUp)
	if n := ch.ListenerCount(ws.EventTimeUp); n != 0 {
		t.Fatalf("expected 0 listeners after Off(event), got %d", n)
	}
}

func TestDisconnectClearsStateAndListeners(t *testing.T) {
	fs := realtimetest.NewServer(t)
	ch := newTestChannel(fs.URL(), DefaultReconnectPolicy())

	ch.OnTimeUp(func(ws.TimeUp) {})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fs.WaitConns(t, 1)

	ch.Disconnect()
	ch.Disconnect()

	if ch.IsConnected() {
		t.Fatalf("expected disconnected")
	}
	if ch.Socket() != nil {
		t.Fatalf("expected nil socket")
	}
	if n := ch.ListenerCount(ws.EventTimeUp); n != 0 {
		t.Fatalf("expected listeners cleared, got %d", n)
	}

	// A deliberate disconnect must not trigger a reconnect.
	time.Sleep(100 * time.Millisecond)
	if fs.Conns() != 1 {
		t.Fatalf("expected no reconnect, server saw %d conns", fs.Conns())
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	fs := realtimetest.NewServer(t)
	ch := newTestChannel(fs.URL(), ReconnectPolicy{
		Enabled:     true,
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	})
	defer ch.Disconnect()

	disconnected := make(chan ws.DisconnectInfo, 1)
	reconnected := make(chan ws.ReconnectInfo, 1)
	ch.OnDisconnect(func(d ws.DisconnectInfo) { disconnected <- d })
	ch.OnReconnect(func(r ws.ReconnectInfo) { reconnected <- r })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fs.WaitConns(t, 1)
	fs.DropAll()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect not reported")
	}
	select {
	case r := <-reconnected:
		if r.Attempt != 1 {
			t.Fatalf("expected attempt 1, got %d", r.Attempt)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("reconnect not reported")
	}

	if ch.Generation() != 2 {
		t.Fatalf("expected generation 2, got %d", ch.Generation())
	}
	if !ch.IsConnected() {
		t.Fatalf("expected connected after reconnect")
	}
}

func TestConnectErrorIsReported(t *testing.T) {
	fs := realtimetest.NewServer(t)
	url := fs.URL()
	fs.Close()

	ch := newTestChannel(url, DefaultReconnectPolicy())
	got := make(chan ws.ConnectError, 1)
	ch.OnConnectError(func(e ws.ConnectError) { got <- e })

	if err := ch.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	select {
	case e := <-got:
		if e.Error == "" {
			t.Fatalf("expected error text")
		}
	case <-time.After(time.Second):
		t.Fatalf("connect_error not dispatched")
	}
	if ch.IsConnected() {
		t.Fatalf("expected disconnected")
	}
}

func TestAcquireReleaseSharesConnection(t *testing.T) {
	fs := realtimetest.NewServer(t)
	ch := newTestChannel(fs.URL(), ReconnectPolicy{})
	ctx := context.Background()

	if err := ch.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := ch.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	fs.WaitConns(t, 1)

	ch.Release()
	if !ch.IsConnected() {
		t.Fatalf("expected connection kept while a consumer remains")
	}
	ch.Release()
	if ch.IsConnected() {
		t.Fatalf("expected disconnect after last release")
	}
	if fs.Conns() != 1 {
		t.Fatalf("expected a single shared connection, got %d", fs.Conns())
	}
}

func TestDisconnectDuringFirstDialWins(t *testing.T) {
	fs := realtimetest.NewServer(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fs.HoldHandshake(func(*http.Request) {
		once.Do(func() { close(entered) })
		<-release
	})

	ch := newTestChannel(fs.URL(), ReconnectPolicy{})
	done := make(chan error, 1)
	go func() { done <- ch.Connect(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("dial never reached the server")
	}
	ch.Disconnect()
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, errClosed) {
			t.Fatalf("expected errClosed, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("connect did not return")
	}
	if ch.IsConnected() || ch.Socket() != nil {
		t.Fatalf("a dial interrupted by disconnect must not install its connection")
	}

	// The channel stays usable afterwards.
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect after disconnect: %v", err)
	}
	defer ch.Disconnect()
	if !ch.IsConnected() {
		t.Fatalf("expected connected")
	}
}
