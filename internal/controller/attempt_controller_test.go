package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/querycache"
	"github.com/stemsi/exstem-attempt/internal/realtime"
	"github.com/stemsi/exstem-attempt/internal/realtime/realtimetest"
	"github.com/stemsi/exstem-attempt/internal/resultstore"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/timer"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// stubAPI serves a six question test two at a time.
type stubAPI struct {
	mu      sync.Mutex
	submits int
	nexts   int
	sent    []model.AnswerSubmission

	// gate, when set, blocks submit-and-next until closed.
	gate chan struct{}
}

func questions(from int) []model.Question {
	return []model.Question{
		{ID: model.ID(string(rune('a' + from - 1))), DisplayNumber: from, Options: []byte(`["A","B"]`)},
		{ID: model.ID(string(rune('a' + from))), DisplayNumber: from + 1, Options: []byte(`"not an array"`)},
	}
}

func (s *stubAPI) StartSession(context.Context, model.ID) (*model.StartSessionResponse, error) {
	return &model.StartSessionResponse{
		Session:   model.Session{ID: "s-1", TestID: "42", StudentID: "u1", Status: model.SessionStatusInProgress},
		Questions: questions(1),
		Progress:  model.Progress{Total: 6},
		Student:   model.Student{ID: "u1", Name: "Ana"},
		Course:    model.Course{Title: "Math"},
	}, nil
}

func (s *stubAPI) FetchByNumber(_ context.Context, _ model.ID, n int) (*model.FetchByNumberResponse, error) {
	anchor := model.AnchorForIndex(n)
	return &model.FetchByNumberResponse{Questions: questions(anchor), Total: 6, Index: n}, nil
}

func (s *stubAPI) SubmitAndNext(_ context.Context, _ model.ID, answers []model.AnswerSubmission) (*model.SubmitNextResponse, error) {
	s.mu.Lock()
	s.nexts++
	s.sent = answers
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return &model.SubmitNextResponse{NextQuestions: questions(3), Progress: &model.Progress{AnsweredCount: 1, Total: 6}}, nil
}

func (s *stubAPI) SubmitAndPrevious(context.Context, model.ID, []model.AnswerSubmission) (*model.SubmitPreviousResponse, error) {
	return &model.SubmitPreviousResponse{PreviousQuestions: questions(1), Progress: model.Progress{Total: 6}}, nil
}

func (s *stubAPI) SubmitSession(_ context.Context, sessionID model.ID) (*model.TestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	return &model.TestResult{Session: model.Session{ID: sessionID, StudentID: "u1"}, Score: 1}, nil
}

func (s *stubAPI) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

type screens struct {
	mu    sync.Mutex
	ended []model.ID
}

func (s *screens) ToAttempt(model.ID, model.ID) {}
func (s *screens) ToTestList()                  {}
func (s *screens) Error(string)                 {}
func (s *screens) Success(string)               {}

func (s *screens) ToTestEnded(id model.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, id)
}

func (s *screens) endedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ended)
}

type harness struct {
	api    *stubAPI
	nav    *screens
	server *realtimetest.Server
	ch     *realtime.Channel
	ctrl   *AttemptController
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{api: &stubAPI{}, nav: &screens{}, server: realtimetest.NewServer(t)}
	h.ch = realtime.New(realtime.Options{URL: h.server.URL()}, zerolog.Nop())
	t.Cleanup(h.ch.Disconnect)

	svc := service.NewAttemptService(h.api, attempt.NewStore(), resultstore.NewMemory(),
		querycache.NewMemory(0), h.nav, h.nav, zerolog.Nop())
	h.ctrl = New(svc, h.ch, timer.DefaultOptions(), zerolog.Nop())
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Start(context.Background(), "42"); err != nil {
		t.Fatalf("start: %v", err)
	}
	f := h.server.Expect(t, ws.EventJoinSession)
	if string(f.Data) != `"s-1"` {
		t.Fatalf("expected join for s-1, got %s", f.Data)
	}
}

func (h *harness) push(t *testing.T, event ws.Event, data interface{}) {
	t.Helper()
	if err := h.server.Push(event, data); err != nil {
		t.Fatalf("push %s: %v", event, err)
	}
}

func waitAutoSubmit(t *testing.T, c *AttemptController) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if done := c.AutoSubmitted(); done != nil {
			select {
			case <-done:
				return
			case <-time.After(3 * time.Second):
				t.Fatalf("auto submit did not finish")
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("auto submit never triggered")
}

func TestTimeUpSubmitsAndEndsTest(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.push(t, ws.EventTestStarted, ws.TestStarted{SessionID: "s-1", TestID: "42"})
	h.push(t, ws.EventTimeLeft, ws.TimeLeft{SessionID: "s-1", TimeLeft: 2000})
	h.push(t, ws.EventTimeUp, ws.TimeUp{SessionID: "s-1", Reason: "timeout"})

	waitAutoSubmit(t, h.ctrl)

	if n := h.api.submitCount(); n != 1 {
		t.Fatalf("expected one submission, got %d", n)
	}
	if h.nav.endedCount() != 1 {
		t.Fatalf("expected navigation to test ended")
	}
	st := h.ctrl.Timer()
	if st.Remaining == nil || *st.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %v", st.Remaining)
	}

	h.server.Expect(t, ws.EventFinishSession)
	h.server.Expect(t, ws.EventLeaveSession)
}

func TestDuplicateZeroEventsSubmitOnce(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.push(t, ws.EventTimeLeft, ws.TimeLeft{SessionID: "s-1", TimeLeft: 0})
	h.push(t, ws.EventTimeLeft, ws.TimeLeft{SessionID: "s-1", TimeLeft: 0})
	h.push(t, ws.EventTimeUp, ws.TimeUp{SessionID: "s-1"})

	waitAutoSubmit(t, h.ctrl)
	// Give any duplicate a chance to show up.
	time.Sleep(100 * time.Millisecond)

	if n := h.api.submitCount(); n != 1 {
		t.Fatalf("expected exactly one submission, got %d", n)
	}
}

func TestAutoSubmitDoesNotWaitForNavigation(t *testing.T) {
	h := newHarness(t)
	h.api.gate = make(chan struct{})
	h.start(t)

	navDone := make(chan error, 1)
	go func() { navDone <- h.ctrl.Next(context.Background()) }()

	// Wait until the navigation call is in flight.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.api.mu.Lock()
		n := h.api.nexts
		h.api.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("navigation never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.ctrl.Jump(context.Background(), 5); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while navigating, got %v", err)
	}

	h.push(t, ws.EventTimeUp, ws.TimeUp{SessionID: "s-1"})
	waitAutoSubmit(t, h.ctrl)

	close(h.api.gate)
	err := <-navDone
	if !errors.Is(err, attempt.ErrStaleSession) {
		t.Fatalf("expected late navigation response to be discarded, got %v", err)
	}

	v := h.ctrl.View()
	if v.Phase != attempt.PhaseIdle || len(v.Questions) != 0 {
		t.Fatalf("reset store must stay empty, got %+v", v)
	}
	if h.api.submitCount() != 1 {
		t.Fatalf("expected one submission")
	}
}

func TestNavigationAndView(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	if err := h.ctrl.Previous(ctx); err != nil {
		t.Fatalf("previous on first page must be a no-op, got %v", err)
	}

	h.ctrl.Select("a", "B")
	v := h.ctrl.View()
	if v.CanPrevious || v.PageIndex != 0 || v.CurrentPage != 1 {
		t.Fatalf("unexpected first page view: %+v", v)
	}
	if v.StudentName != "Ana" || v.CourseTitle != "Math" || len(v.Grid) != 6 {
		t.Fatalf("unexpected header/grid: %+v", v)
	}
	if v.Questions[0].Selected != "B" || len(v.Questions[0].Options) != 2 {
		t.Fatalf("unexpected first question: %+v", v.Questions[0])
	}
	if !v.Questions[1].Corrupt || len(v.Questions[1].Options) != 0 {
		t.Fatalf("expected corrupt options flagged: %+v", v.Questions[1])
	}
	if !v.Grid[0].Answered || v.Grid[1].Answered || !v.Grid[0].Current {
		t.Fatalf("unexpected grid: %+v", v.Grid[:2])
	}

	if err := h.ctrl.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	v = h.ctrl.View()
	if v.CurrentPage != 3 || !v.CanPrevious {
		t.Fatalf("expected anchor 3, got %+v", v)
	}

	if err := h.ctrl.Jump(ctx, 6); err != nil {
		t.Fatalf("jump: %v", err)
	}
	if v = h.ctrl.View(); v.CurrentPage != 5 || v.PageIndex != 2 {
		t.Fatalf("expected anchor 5 page 2, got %d/%d", v.CurrentPage, v.PageIndex)
	}

	if err := h.ctrl.Previous(ctx); err != nil {
		t.Fatalf("previous: %v", err)
	}
	if v = h.ctrl.View(); v.CurrentPage != 1 || !v.Grid[0].Answered {
		t.Fatalf("expected back on page with answer kept, got %+v", v)
	}
}

func TestFinishSubmitsOnceAndLeaves(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	var completed []model.ID
	h.ctrl.OnCompleted(func(id model.ID) { completed = append(completed, id) })

	if err := h.ctrl.Finish(context.Background()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := h.ctrl.Finish(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after completion, got %v", err)
	}

	if h.api.submitCount() != 1 || len(completed) != 1 || completed[0] != "s-1" {
		t.Fatalf("unexpected completion: submits=%d completed=%v", h.api.submitCount(), completed)
	}
	if h.api.nexts != 0 {
		t.Fatalf("a page without selections must not be saved, got %d saves", h.api.nexts)
	}
	h.server.Expect(t, ws.EventFinishSession)
	h.server.Expect(t, ws.EventLeaveSession)

	// The late time_up after completion must not submit again.
	h.push(t, ws.EventTimeUp, ws.TimeUp{SessionID: "s-1"})
	time.Sleep(100 * time.Millisecond)
	if h.api.submitCount() != 1 {
		t.Fatalf("expected no further submissions")
	}
}

func TestFinishSavesSelectionsOnShownPage(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.ctrl.Select("a", "B")
	if err := h.ctrl.Finish(context.Background()); err != nil {
		t.Fatalf("finish: %v", err)
	}

	h.api.mu.Lock()
	nexts, sent := h.api.nexts, h.api.sent
	h.api.mu.Unlock()
	if nexts != 1 || len(sent) != 2 {
		t.Fatalf("expected the shown page saved once, got %d saves with %v", nexts, sent)
	}
	if sent[0].QuestionID != "a" || sent[0].SelectedOption == nil || *sent[0].SelectedOption != "B" {
		t.Fatalf("unexpected saved answer: %+v", sent[0])
	}
	if h.api.submitCount() != 1 {
		t.Fatalf("expected one submission after the save, got %d", h.api.submitCount())
	}
	h.server.Expect(t, ws.EventFinishSession)
	h.server.Expect(t, ws.EventLeaveSession)
}
