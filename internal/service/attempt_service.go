package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/apiclient"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/querycache"
	"github.com/stemsi/exstem-attempt/internal/resultstore"
)

var (
	ErrMissingTestID    = errors.New("test id is required")
	ErrSessionActive    = errors.New("an attempt is already loaded")
	ErrSubmitInProgress = errors.New("session submission already in progress")
)

const (
	msgSubmitted     = "Test submitted successfully."
	msgGenericFailed = "Something went wrong. Please try again."
)

// API is the backend the lifecycle operations call. apiclient.Client
// implements it.
type API interface {
	StartSession(ctx context.Context, testID model.ID) (*model.StartSessionResponse, error)
	FetchByNumber(ctx context.Context, sessionID model.ID, questionNumber int) (*model.FetchByNumberResponse, error)
	SubmitAndNext(ctx context.Context, sessionID model.ID, answers []model.AnswerSubmission) (*model.SubmitNextResponse, error)
	SubmitAndPrevious(ctx context.Context, sessionID model.ID, answers []model.AnswerSubmission) (*model.SubmitPreviousResponse, error)
	SubmitSession(ctx context.Context, sessionID model.ID) (*model.TestResult, error)
}

// Navigator moves the user between screens.
type Navigator interface {
	ToAttempt(sessionID, testID model.ID)
	ToTestEnded(sessionID model.ID)
	ToTestList()
}

// Notifier shows non-blocking messages.
type Notifier interface {
	Error(msg string)
	Success(msg string)
}

// NextOutcome describes how submit-and-next ended.
type NextOutcome struct {
	Finished bool
	// Result is set when the backend returned the detailed result.
	Result *model.TestResult
}

// AttemptService runs the session lifecycle operations against the store.
// Every failure is shown through the Notifier and returned; the store is
// left unchanged so the action can be retried.
type AttemptService struct {
	api     API
	store   *attempt.Store
	results resultstore.Store
	queries querycache.Invalidator
	nav     Navigator
	notify  Notifier
	log     zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	api API,
	store *attempt.Store,
	results resultstore.Store,
	queries querycache.Invalidator,
	nav Navigator,
	notify Notifier,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		api:     api,
		store:   store,
		results: results,
		queries: queries,
		nav:     nav,
		notify:  notify,
		log:     log.With().Str("component", "attempt_service").Logger(),
	}
}

// Store returns the attempt store the service writes to.
func (s *AttemptService) Store() *attempt.Store { return s.store }

// StartSession opens a new attempt for testID. Without a test id the user is
// sent back to the test list.
func (s *AttemptService) StartSession(ctx context.Context, testID model.ID) (*model.StartSessionResponse, error) {
	if testID.IsZero() {
		s.nav.ToTestList()
		return nil, ErrMissingTestID
	}
	if s.store.HasQuestions() {
		return nil, ErrSessionActive
	}

	resp, err := s.api.StartSession(ctx, testID)
	if err != nil {
		return nil, s.fail("start session", err)
	}

	err = s.store.Begin(resp.Session, resp.Questions, resp.Progress, &resp.Student, &resp.Course)
	if err != nil {
		return nil, s.fail("start session", err)
	}

	s.log.Info().
		Str("session_id", resp.Session.ID.String()).
		Str("test_id", testID.String()).
		Int("attempt_no", resp.Session.AttemptNo).
		Msg("Session started")

	s.nav.ToAttempt(resp.Session.ID, testID)
	return resp, nil
}

// FetchQuestionsByNumber jumps to the pair containing questionNumber.
func (s *AttemptService) FetchQuestionsByNumber(ctx context.Context, sessionID model.ID, questionNumber int) (*model.FetchByNumberResponse, error) {
	resp, err := s.api.FetchByNumber(ctx, sessionID, questionNumber)
	if err != nil {
		return nil, s.fail("fetch by number", err)
	}

	answered := 0
	echoes := make(map[model.ID]string)
	learned := make(map[model.ID]int)
	for _, e := range resp.AnsweredList {
		if e.Answered {
			answered++
		}
		if e.PreviousAnswer != nil && *e.PreviousAnswer != "" {
			echoes[e.QuestionID] = *e.PreviousAnswer
		}
		if e.DisplayNumber > 0 {
			learned[e.QuestionID] = e.DisplayNumber
		}
	}

	anchor := model.FirstDisplayNumber(resp.Questions)
	if anchor == 0 {
		index := resp.Index
		if index < 1 {
			index = questionNumber
		}
		anchor = model.AnchorForIndex(index)
	}

	err = s.store.Apply(sessionID, func(tx *attempt.Tx) {
		tx.SetQuestions(resp.Questions)
		tx.SetProgress(model.Progress{AnsweredCount: answered, Total: resp.Total})
		tx.SetAnswers(echoes)
		tx.MergeAnswers(resp.Questions)
		tx.SetShowSubmitButton(resp.ShowSubmitButton || resp.Finished)
		tx.SetCurrentPage(anchor)
		tx.UpdateQuestionMap(learned)
		tx.UpdateQuestionMap(attempt.QuestionMapOf(resp.Questions))
	})
	if err != nil {
		return nil, s.discard("fetch by number", sessionID, err)
	}
	return resp, nil
}

// SubmitAnswersAndGetNext saves the shown page and advances. When the
// backend reports the test finished the attempt is closed.
func (s *AttemptService) SubmitAnswersAndGetNext(ctx context.Context, sessionID model.ID, answers []model.AnswerSubmission) (*NextOutcome, error) {
	resp, err := s.api.SubmitAndNext(ctx, sessionID, answers)
	if err != nil {
		return nil, s.fail("submit and next", err)
	}

	if !resp.Finished {
		err = s.store.Apply(sessionID, func(tx *attempt.Tx) {
			tx.SetQuestions(resp.NextQuestions)
			if resp.Progress != nil {
				tx.SetProgress(*resp.Progress)
			}
			tx.SetShowSubmitButton(resp.ShowSubmitButton)
			if first := model.FirstDisplayNumber(resp.NextQuestions); first > 0 {
				tx.SetCurrentPage(first)
			}
			tx.MergeAnswers(resp.NextQuestions)
			tx.UpdateQuestionMap(attempt.QuestionMapOf(resp.NextQuestions))
		})
		if err != nil {
			return nil, s.discard("submit and next", sessionID, err)
		}
		return &NextOutcome{}, nil
	}

	if !s.store.BeginSubmit(sessionID) {
		return nil, s.discard("submit and next", sessionID, attempt.ErrStaleSession)
	}

	out := &NextOutcome{Finished: true}
	if resp.Result.Detailed() {
		out.Result = resp.Result
		s.saveResult(ctx, sessionID, resp.Result)
	} else {
		s.notify.Success(msgSubmitted)
	}
	s.invalidateQueries(ctx)
	s.complete(sessionID)
	return out, nil
}

// SubmitAnswersAndGetPrevious saves the shown page and steps back one pair.
// The page never goes below the first one.
func (s *AttemptService) SubmitAnswersAndGetPrevious(ctx context.Context, sessionID model.ID, answers []model.AnswerSubmission) (*model.SubmitPreviousResponse, error) {
	resp, err := s.api.SubmitAndPrevious(ctx, sessionID, answers)
	if err != nil {
		return nil, s.fail("submit and previous", err)
	}

	err = s.store.Apply(sessionID, func(tx *attempt.Tx) {
		tx.SetQuestions(resp.PreviousQuestions)
		tx.SetProgress(resp.Progress)
		tx.SetShowSubmitButton(resp.ShowSubmitButton)
		tx.SetCurrentPage(previousAnchor(tx.CurrentPage(), resp.PreviousQuestions))
		tx.MergeAnswers(resp.PreviousQuestions)
		tx.UpdateQuestionMap(attempt.QuestionMapOf(resp.PreviousQuestions))
	})
	if err != nil {
		return nil, s.discard("submit and previous", sessionID, err)
	}
	return resp, nil
}

// SubmitTestSession ends the session. Only the first call per session
// reaches the backend; later ones return ErrSubmitInProgress. A backend
// answer of "already finished" counts as success.
func (s *AttemptService) SubmitTestSession(ctx context.Context, sessionID model.ID) (*model.TestResult, error) {
	if !s.store.BeginSubmit(sessionID) {
		s.log.Debug().Str("session_id", sessionID.String()).Msg("Submit skipped, latch already taken")
		return nil, ErrSubmitInProgress
	}

	result, err := s.api.SubmitSession(ctx, sessionID)
	if err != nil {
		if !apiclient.IsAlreadyFinished(err) {
			_ = s.store.EndSubmit(sessionID, false)
			return nil, s.fail("submit session", err)
		}
		s.log.Info().Str("session_id", sessionID.String()).Msg("Session was already finished, treating as submitted")
		result = nil
	}

	if result != nil {
		s.saveResult(ctx, sessionID, result)
	}
	s.invalidateQueries(ctx)
	s.complete(sessionID)
	return result, nil
}

// Result returns a stored result of a finished session.
func (s *AttemptService) Result(ctx context.Context, sessionID model.ID) (*model.TestResult, error) {
	return s.results.Get(ctx, sessionID)
}

// complete moves a latched session to SUBMITTED, navigates away and resets
// the store for the next attempt.
func (s *AttemptService) complete(sessionID model.ID) {
	if err := s.store.EndSubmit(sessionID, true); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Unexpected phase while completing session")
	}
	s.log.Info().Str("session_id", sessionID.String()).Msg("Session completed")
	s.nav.ToTestEnded(sessionID)
	s.store.Reset()
}

func (s *AttemptService) saveResult(ctx context.Context, sessionID model.ID, result *model.TestResult) {
	r := *result
	if r.Session.ID.IsZero() {
		r.Session.ID = sessionID
	}
	if err := s.results.Save(ctx, r); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to store result")
	}
}

func (s *AttemptService) invalidateQueries(ctx context.Context) {
	if s.queries == nil {
		return
	}
	if err := s.queries.Invalidate(ctx, querycache.ScopeDashboard, querycache.ScopeTests); err != nil {
		s.log.Warn().Err(err).Msg("Failed to invalidate cached queries")
	}
}

// fail toasts the error and returns it wrapped with the operation name.
func (s *AttemptService) fail(op string, err error) error {
	s.log.Warn().Err(err).Str("op", op).Msg("Lifecycle operation failed")
	s.notify.Error(userMessage(err))
	return fmt.Errorf("%s: %w", op, err)
}

// discard logs a response that arrived for a session the store no longer
// holds. Nothing is shown to the user.
func (s *AttemptService) discard(op string, sessionID model.ID, err error) error {
	s.log.Debug().
		Err(err).
		Str("op", op).
		Str("session_id", sessionID.String()).
		Msg("Discarding late response")
	return fmt.Errorf("%s: %w", op, err)
}

func userMessage(err error) string {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return msgGenericFailed
}

// previousAnchor picks the anchor after stepping back: the first display
// number of the new batch, or one page before current, never below page 0.
func previousAnchor(current int, batch []model.Question) int {
	if first := model.FirstDisplayNumber(batch); first > 0 {
		return first
	}
	if attempt.PageIndexOf(current) > 0 {
		return current - model.PageSize
	}
	return current
}
