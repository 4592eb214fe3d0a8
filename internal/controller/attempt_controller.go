// Package controller drives one test attempt screen without a UI: it wires
// the lifecycle service to the exam timer, serialises navigation and submits
// the session automatically when the server says time is up.
package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/timer"
)

// ErrBusy is returned while another navigation or submit call is in flight.
var ErrBusy = errors.New("another operation is in progress")

// ErrNoSession is returned when an operation needs a loaded attempt.
var ErrNoSession = errors.New("no attempt loaded")

// AttemptController composes the lifecycle service, the store and the timer.
type AttemptController struct {
	svc       *service.AttemptService
	store     *attempt.Store
	ch        timer.Channel
	timerOpts timer.Options
	log       zerolog.Logger

	busy atomic.Bool

	mu          sync.Mutex
	adapter     *timer.Adapter
	autoFired   bool
	autoDone    chan struct{}
	onTimer     func(timer.State)
	onCompleted func(model.ID)
}

// New creates a controller. ch is the shared realtime channel.
func New(svc *service.AttemptService, ch timer.Channel, timerOpts timer.Options, log zerolog.Logger) *AttemptController {
	return &AttemptController{
		svc:       svc,
		store:     svc.Store(),
		ch:        ch,
		timerOpts: timerOpts,
		log:       log.With().Str("component", "attempt_controller").Logger(),
	}
}

// OnTimer registers a callback for every timer update. Set before Start.
func (c *AttemptController) OnTimer(fn func(timer.State)) {
	c.mu.Lock()
	c.onTimer = fn
	c.mu.Unlock()
}

// OnCompleted registers a callback run after a session ends, whichever way.
func (c *AttemptController) OnCompleted(fn func(model.ID)) {
	c.mu.Lock()
	c.onCompleted = fn
	c.mu.Unlock()
}

// Start opens a session for testID and binds the timer to it.
func (c *AttemptController) Start(ctx context.Context, testID model.ID) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.busy.Store(false)

	resp, err := c.svc.StartSession(ctx, testID)
	if err != nil {
		return err
	}
	c.bindTimer(ctx, resp.Session.ID)
	return nil
}

// Select records the option picked for a question on the shown page.
func (c *AttemptController) Select(questionID model.ID, option string) {
	if c.store.Phase() != attempt.PhaseActive {
		return
	}
	c.store.UpdateAnswer(questionID, option)
}

// Next submits the shown page and moves forward.
func (c *AttemptController) Next(ctx context.Context) error {
	return c.navigate(func(sessionID model.ID) error {
		out, err := c.svc.SubmitAnswersAndGetNext(ctx, sessionID, c.store.CurrentAnswers())
		if err != nil {
			return err
		}
		if out.Finished {
			c.completed(sessionID)
		}
		return nil
	})
}

// Previous submits the shown page and moves back. It does nothing on the
// first page.
func (c *AttemptController) Previous(ctx context.Context) error {
	if c.store.PageIndex() == 0 {
		return nil
	}
	return c.navigate(func(sessionID model.ID) error {
		_, err := c.svc.SubmitAnswersAndGetPrevious(ctx, sessionID, c.store.CurrentAnswers())
		return err
	})
}

// Jump shows the pair containing questionNumber.
func (c *AttemptController) Jump(ctx context.Context, questionNumber int) error {
	return c.navigate(func(sessionID model.ID) error {
		_, err := c.svc.FetchQuestionsByNumber(ctx, sessionID, questionNumber)
		return err
	})
}

// Finish submits the session. Confirmation is the caller's job.
//
// Selections on the shown page are saved first through submit-and-next. On
// the last page that call already ends the test; elsewhere the session is
// submitted after it.
func (c *AttemptController) Finish(ctx context.Context) error {
	return c.navigate(func(sessionID model.ID) error {
		answers := c.store.CurrentAnswers()
		if hasSelection(answers) {
			out, err := c.svc.SubmitAnswersAndGetNext(ctx, sessionID, answers)
			if err != nil {
				return err
			}
			if out.Finished {
				c.completed(sessionID)
				return nil
			}
		}
		return c.submit(ctx, sessionID)
	})
}

func hasSelection(answers []model.AnswerSubmission) bool {
	for _, a := range answers {
		if a.SelectedOption != nil && *a.SelectedOption != "" {
			return true
		}
	}
	return false
}

// AutoSubmitted returns a channel closed once an automatic submission has
// finished, or nil if none was triggered.
func (c *AttemptController) AutoSubmitted() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoDone
}

// Timer returns the current timer state.
func (c *AttemptController) Timer() timer.State {
	c.mu.Lock()
	a := c.adapter
	c.mu.Unlock()
	if a == nil {
		return timer.State{}
	}
	return a.State()
}

// Close detaches the timer. The realtime channel stays open for others.
func (c *AttemptController) Close() {
	c.mu.Lock()
	a := c.adapter
	c.adapter = nil
	c.mu.Unlock()
	if a != nil {
		a.Stop()
	}
}

func (c *AttemptController) navigate(fn func(sessionID model.ID) error) error {
	sessionID := c.store.SessionID()
	if sessionID.IsZero() {
		return ErrNoSession
	}
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.busy.Store(false)
	return fn(sessionID)
}

func (c *AttemptController) submit(ctx context.Context, sessionID model.ID) error {
	_, err := c.svc.SubmitTestSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSubmitInProgress) {
			return nil
		}
		return err
	}
	c.completed(sessionID)
	return nil
}

func (c *AttemptController) bindTimer(ctx context.Context, sessionID model.ID) {
	a := timer.New(c.ch, sessionID, c.timerOpts, c.log)
	a.OnChange(c.handleTimer)

	c.mu.Lock()
	old := c.adapter
	c.adapter = a
	c.autoFired = false
	c.autoDone = nil
	c.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	a.Start(ctx)
}

// handleTimer runs on the realtime read goroutine. The submission runs on
// its own goroutine and does not wait for in-flight navigation.
func (c *AttemptController) handleTimer(st timer.State) {
	c.mu.Lock()
	cb := c.onTimer
	fire := st.TimeUp() && !c.autoFired && c.adapter != nil
	var done chan struct{}
	var sessionID model.ID
	if fire {
		c.autoFired = true
		done = make(chan struct{})
		c.autoDone = done
		sessionID = c.adapter.SessionID()
	}
	c.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	if !fire {
		return
	}

	go func() {
		defer close(done)
		c.log.Info().Str("session_id", sessionID.String()).Msg("Time is up, submitting session")
		if err := c.submit(context.Background(), sessionID); err != nil {
			c.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Automatic submission failed")
		}
	}()
}

// completed tells the realtime side the session is over and detaches the
// timer.
func (c *AttemptController) completed(sessionID model.ID) {
	c.mu.Lock()
	a := c.adapter
	cb := c.onCompleted
	c.mu.Unlock()

	if a != nil && a.SessionID() == sessionID {
		a.Finish()
		a.Leave()
		a.Stop()
	}
	if cb != nil {
		cb(sessionID)
	}
}
