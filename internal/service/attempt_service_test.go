package service

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/apiclient"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/querycache"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/resultstore"
)

type fakeAPI struct {
	mu sync.Mutex

	start    *model.StartSessionResponse
	fetch    *model.FetchByNumberResponse
	next     *model.SubmitNextResponse
	previous *model.SubmitPreviousResponse
	result   *model.TestResult
	err      error
	// onStart runs inside StartSession before it returns.
	onStart func()

	calls       map[string]int
	lastAnswers []model.AnswerSubmission
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (f *fakeAPI) record(op string, answers []model.AnswerSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if answers != nil {
		f.lastAnswers = answers
	}
	return f.err
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) StartSession(_ context.Context, _ model.ID) (*model.StartSessionResponse, error) {
	if err := f.record("start", nil); err != nil {
		return nil, err
	}
	if f.onStart != nil {
		f.onStart()
	}
	return f.start, nil
}

func (f *fakeAPI) FetchByNumber(_ context.Context, _ model.ID, _ int) (*model.FetchByNumberResponse, error) {
	if err := f.record("fetch", nil); err != nil {
		return nil, err
	}
	return f.fetch, nil
}

func (f *fakeAPI) SubmitAndNext(_ context.Context, _ model.ID, answers []model.AnswerSubmission) (*model.SubmitNextResponse, error) {
	if err := f.record("next", answers); err != nil {
		return nil, err
	}
	return f.next, nil
}

func (f *fakeAPI) SubmitAndPrevious(_ context.Context, _ model.ID, answers []model.AnswerSubmission) (*model.SubmitPreviousResponse, error) {
	if err := f.record("previous", answers); err != nil {
		return nil, err
	}
	return f.previous, nil
}

func (f *fakeAPI) SubmitSession(_ context.Context, _ model.ID) (*model.TestResult, error) {
	if err := f.record("submit", nil); err != nil {
		return nil, err
	}
	return f.result, nil
}

type recorder struct {
	mu       sync.Mutex
	attempts []model.ID
	ended    []model.ID
	lists    int
	errors   []string
	success  []string
}

func (r *recorder) ToAttempt(sessionID, _ model.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, sessionID)
}

func (r *recorder) ToTestEnded(sessionID model.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, sessionID)
}

func (r *recorder) ToTestList() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
}

func (r *recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recorder) Success(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = append(r.success, msg)
}

type fixture struct {
	api     *fakeAPI
	store   *attempt.Store
	results *resultstore.Memory
	cache   *querycache.Memory
	rec     *recorder
	svc     *AttemptService
}

func newFixture() *fixture {
	f := &fixture{
		api:     newFakeAPI(),
		store:   attempt.NewStore(),
		results: resultstore.NewMemory(),
		cache:   querycache.NewMemory(0),
		rec:     &recorder{},
	}
	f.svc = NewAttemptService(f.api, f.store, f.results, f.cache, f.rec, f.rec, zerolog.Nop())
	return f
}

func strPtr(s string) *string { return &s }

func pair(a, b int) []model.Question {
	return []model.Question{
		{ID: model.ID(strconv.Itoa(a)), DisplayNumber: a},
		{ID: model.ID(strconv.Itoa(b)), DisplayNumber: b},
	}
}

func (f *fixture) started(t *testing.T) {
	t.Helper()
	f.api.start = &model.StartSessionResponse{
		Session:   model.Session{ID: "s-1", TestID: "42", StudentID: "u1", Status: model.SessionStatusInProgress},
		Questions: pair(1, 2),
		Progress:  model.Progress{AnsweredCount: 0, Total: 6},
		Student:   model.Student{ID: "u1", Name: "Ana"},
		Course:    model.Course{ID: "c1", Title: "Math"},
	}
	if _, err := f.svc.StartSession(context.Background(), "42"); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestEndToEndStartAnswerAndAdvance(t *testing.T) {
	f := newFixture()
	f.started(t)

	if len(f.rec.attempts) != 1 || f.rec.attempts[0] != "s-1" {
		t.Fatalf("expected navigation to attempt s-1, got %v", f.rec.attempts)
	}
	if f.store.CurrentPage() != 1 {
		t.Fatalf("expected anchor 1, got %d", f.store.CurrentPage())
	}

	f.store.UpdateAnswer("1", "B")
	answers := f.store.CurrentAnswers()

	f.api.next = &model.SubmitNextResponse{
		NextQuestions: pair(3, 4),
		Progress:      &model.Progress{AnsweredCount: 1, Total: 6},
	}
	out, err := f.svc.SubmitAnswersAndGetNext(context.Background(), "s-1", answers)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if out.Finished {
		t.Fatalf("expected not finished")
	}

	sent := f.api.lastAnswers
	if len(sent) != 2 || *sent[0].SelectedOption != "B" || sent[1].SelectedOption != nil {
		t.Fatalf("unexpected submitted answers: %+v", sent)
	}

	snap := f.store.Snapshot()
	if snap.CurrentPage != 3 {
		t.Fatalf("expected anchor 3, got %d", snap.CurrentPage)
	}
	for _, id := range []model.ID{"1", "2", "3", "4"} {
		if _, ok := snap.QuestionMap[id]; !ok {
			t.Fatalf("question map missing %s: %v", id, snap.QuestionMap)
		}
	}
	if snap.Progress.AnsweredCount != 1 || snap.Answers["1"] != "B" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestStartSessionWithoutTestIDGoesToList(t *testing.T) {
	f := newFixture()
	_, err := f.svc.StartSession(context.Background(), "")
	if !errors.Is(err, ErrMissingTestID) {
		t.Fatalf("expected ErrMissingTestID, got %v", err)
	}
	if f.rec.lists != 1 || f.api.count("start") != 0 {
		t.Fatalf("expected redirect without call, lists=%d calls=%d", f.rec.lists, f.api.count("start"))
	}
}

func TestStartSessionRefusedWhenLoaded(t *testing.T) {
	f := newFixture()
	f.started(t)

	if _, err := f.svc.StartSession(context.Background(), "42"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if f.api.count("start") != 1 {
		t.Fatalf("second start must not reach the API")
	}
}

func TestStartSessionToastsWhenStoreFilledMeanwhile(t *testing.T) {
	f := newFixture()
	f.api.start = &model.StartSessionResponse{
		Session:   model.Session{ID: "s-2", TestID: "42", StudentID: "u1"},
		Questions: pair(1, 2),
		Progress:  model.Progress{Total: 6},
	}
	f.api.onStart = func() { f.store.SetQuestions(pair(7, 8)) }

	_, err := f.svc.StartSession(context.Background(), "42")
	if !errors.Is(err, attempt.ErrSessionLoaded) {
		t.Fatalf("expected ErrSessionLoaded, got %v", err)
	}
	if len(f.rec.errors) != 1 || f.rec.errors[0] != msgGenericFailed {
		t.Fatalf("expected one generic toast, got %v", f.rec.errors)
	}
	if len(f.rec.attempts) != 0 {
		t.Fatalf("must not navigate to the attempt, got %v", f.rec.attempts)
	}
}

func TestStartSessionMergesEchoedAnswers(t *testing.T) {
	f := newFixture()
	qs := pair(1, 2)
	qs[1].SelectedOption = strPtr("C")
	f.api.start = &model.StartSessionResponse{Session: model.Session{ID: "s-1"}, Questions: qs}

	if _, err := f.svc.StartSession(context.Background(), "42"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if opt, _ := f.store.Answer("2"); opt != "C" {
		t.Fatalf("expected echoed C, got %q", opt)
	}
}

func TestFailedOperationToastsAndKeepsStore(t *testing.T) {
	f := newFixture()
	f.started(t)
	before := f.store.Snapshot()

	f.api.err = &apiclient.APIError{Status: http.StatusBadRequest, Code: response.ErrValidation, Message: "Validation failed."}
	if _, err := f.svc.SubmitAnswersAndGetNext(context.Background(), "s-1", nil); err == nil {
		t.Fatalf("expected error")
	}

	if len(f.rec.errors) != 1 || f.rec.errors[0] != "Validation failed." {
		t.Fatalf("expected toast with server message, got %v", f.rec.errors)
	}
	after := f.store.Snapshot()
	if after.CurrentPage != before.CurrentPage || len(after.Questions) != len(before.Questions) {
		t.Fatalf("store must be unchanged")
	}

	f.api.err = errors.New("connection refused")
	if _, err := f.svc.FetchQuestionsByNumber(context.Background(), "s-1", 3); err == nil {
		t.Fatalf("expected error")
	}
	if f.rec.errors[1] != msgGenericFailed {
		t.Fatalf("expected generic toast, got %q", f.rec.errors[1])
	}
}

func TestFetchByNumberReconcilesAnswers(t *testing.T) {
	f := newFixture()
	f.started(t)
	f.store.UpdateAnswer("1", "A")

	f.api.fetch = &model.FetchByNumberResponse{
		Questions: pair(5, 6),
		Total:     6,
		AnsweredList: []model.AnsweredEntry{
			{QuestionID: "1", DisplayNumber: 1, Answered: true, PreviousAnswer: strPtr("A")},
			{QuestionID: "2", DisplayNumber: 2, Answered: true, PreviousAnswer: strPtr("B")},
			{QuestionID: "3", DisplayNumber: 3},
		},
		Finished:         true,
		ShowSubmitButton: false,
		Index:            5,
	}
	if _, err := f.svc.FetchQuestionsByNumber(context.Background(), "s-1", 5); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	snap := f.store.Snapshot()
	if snap.Answers["1"] != "A" || snap.Answers["2"] != "B" {
		t.Fatalf("expected merged answers, got %v", snap.Answers)
	}
	if snap.Progress.AnsweredCount != 2 || snap.Progress.Total != 6 {
		t.Fatalf("unexpected progress %+v", snap.Progress)
	}
	if !snap.ShowSubmitButton {
		t.Fatalf("finished must show submit button")
	}
	if snap.CurrentPage != 5 || f.store.PageIndex() != 2 {
		t.Fatalf("expected anchor 5 page 2, got %d/%d", snap.CurrentPage, f.store.PageIndex())
	}
	if snap.QuestionMap["3"] != 3 {
		t.Fatalf("expected answered list to extend the question map, got %v", snap.QuestionMap)
	}
}

func TestFetchByNumberFallsBackToIndex(t *testing.T) {
	f := newFixture()
	f.started(t)

	f.api.fetch = &model.FetchByNumberResponse{
		Questions: []model.Question{{ID: "x"}, {ID: "y"}},
		Index:     4,
	}
	if _, err := f.svc.FetchQuestionsByNumber(context.Background(), "s-1", 4); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if f.store.CurrentPage() != 3 {
		t.Fatalf("expected anchor 3 from index 4, got %d", f.store.CurrentPage())
	}
}

func TestPreviousClampsAtFirstPage(t *testing.T) {
	f := newFixture()
	f.started(t)

	f.api.previous = &model.SubmitPreviousResponse{
		PreviousQuestions: []model.Question{{ID: "1"}, {ID: "2"}},
		Progress:          model.Progress{Total: 6},
	}
	if _, err := f.svc.SubmitAnswersAndGetPrevious(context.Background(), "s-1", nil); err != nil {
		t.Fatalf("previous: %v", err)
	}
	if f.store.CurrentPage() != 1 || f.store.PageIndex() != 0 {
		t.Fatalf("expected to stay on page 0, got anchor %d", f.store.CurrentPage())
	}
}

func TestPreviousMovesBackOnePair(t *testing.T) {
	f := newFixture()
	f.started(t)
	f.store.SetCurrentPage(5)

	f.api.previous = &model.SubmitPreviousResponse{PreviousQuestions: pair(3, 4)}
	if _, err := f.svc.SubmitAnswersAndGetPrevious(context.Background(), "s-1", nil); err != nil {
		t.Fatalf("previous: %v", err)
	}
	if f.store.CurrentPage() != 3 {
		t.Fatalf("expected anchor 3, got %d", f.store.CurrentPage())
	}

	// A batch without display numbers steps back by one pair.
	f.api.previous = &model.SubmitPreviousResponse{PreviousQuestions: []model.Question{{ID: "1"}}}
	if _, err := f.svc.SubmitAnswersAndGetPrevious(context.Background(), "s-1", nil); err != nil {
		t.Fatalf("previous: %v", err)
	}
	if f.store.CurrentPage() != 1 {
		t.Fatalf("expected anchor 1, got %d", f.store.CurrentPage())
	}
}

func TestNextFinishedWithDetailedResult(t *testing.T) {
	f := newFixture()
	f.started(t)
	_ = f.cache.Set(context.Background(), querycache.ScopeTests, "u1", []string{"42"})

	f.api.next = &model.SubmitNextResponse{
		Finished: true,
		Result: &model.TestResult{
			Session: model.Session{ID: "s-1", StudentID: "u1"},
			Score:   1,
			Answers: []model.AnswerDetail{{QuestionID: "1", Correct: true}},
		},
	}
	out, err := f.svc.SubmitAnswersAndGetNext(context.Background(), "s-1", nil)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !out.Finished || out.Result == nil {
		t.Fatalf("expected finished with result, got %+v", out)
	}

	if _, err := f.results.Get(context.Background(), "s-1"); err != nil {
		t.Fatalf("expected stored result: %v", err)
	}
	if len(f.rec.ended) != 1 || len(f.rec.success) != 0 {
		t.Fatalf("expected test-ended without toast, ended=%v success=%v", f.rec.ended, f.rec.success)
	}
	if f.store.Phase() != attempt.PhaseIdle || f.store.HasQuestions() {
		t.Fatalf("expected reset store")
	}
	var cached []string
	if ok, _ := f.cache.Get(context.Background(), querycache.ScopeTests, "u1", &cached); ok {
		t.Fatalf("expected test list invalidated")
	}
}

func TestNextFinishedWithMinimalPayload(t *testing.T) {
	f := newFixture()
	f.started(t)

	f.api.next = &model.SubmitNextResponse{Finished: true, Message: "done"}
	out, err := f.svc.SubmitAnswersAndGetNext(context.Background(), "s-1", nil)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !out.Finished || out.Result != nil {
		t.Fatalf("expected finished without result, got %+v", out)
	}
	if len(f.rec.ended) != 1 || len(f.rec.success) != 1 {
		t.Fatalf("expected test-ended and generic toast, ended=%v success=%v", f.rec.ended, f.rec.success)
	}
	if _, err := f.results.Get(context.Background(), "s-1"); !errors.Is(err, resultstore.ErrNotFound) {
		t.Fatalf("minimal payload must not be stored, got %v", err)
	}
}

func TestSubmitTestSessionOnce(t *testing.T) {
	f := newFixture()
	f.started(t)
	f.api.result = &model.TestResult{Session: model.Session{StudentID: "u1"}, Score: 3}

	res, err := f.svc.SubmitTestSession(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	stored, err := f.results.Get(context.Background(), "s-1")
	if err != nil || stored.Session.ID != "s-1" {
		t.Fatalf("expected result stored under s-1, got %+v err=%v", stored, err)
	}

	if _, err := f.svc.SubmitTestSession(context.Background(), "s-1"); !errors.Is(err, ErrSubmitInProgress) {
		t.Fatalf("expected ErrSubmitInProgress, got %v", err)
	}
	if f.api.count("submit") != 1 || len(f.rec.ended) != 1 {
		t.Fatalf("expected one call and one navigation, calls=%d ended=%v", f.api.count("submit"), f.rec.ended)
	}
}

func TestConcurrentSubmitReachesServerOnce(t *testing.T) {
	f := newFixture()
	f.started(t)
	f.api.result = &model.TestResult{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.SubmitTestSession(context.Background(), "s-1")
		}()
	}
	wg.Wait()

	if n := f.api.count("submit"); n != 1 {
		t.Fatalf("expected exactly one submit call, got %d", n)
	}
}

func TestSubmitAlreadyFinishedIsBenign(t *testing.T) {
	f := newFixture()
	f.started(t)
	f.api.err = &apiclient.APIError{Status: http.StatusConflict, Code: response.ErrSessionFinished, Message: "already"}

	if _, err := f.svc.SubmitTestSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("expected benign completion, got %v", err)
	}
	if len(f.rec.errors) != 0 || len(f.rec.ended) != 1 {
		t.Fatalf("expected no toast and test-ended, errors=%v ended=%v", f.rec.errors, f.rec.ended)
	}
}

func TestSubmitFailureAllowsRetry(t *testing.T) {
	f := newFixture()
	f.started(t)
	f.api.err = errors.New("timeout")

	if _, err := f.svc.SubmitTestSession(context.Background(), "s-1"); err == nil {
		t.Fatalf("expected error")
	}
	if f.store.Phase() != attempt.PhaseActive {
		t.Fatalf("expected ACTIVE after failure, got %s", f.store.Phase())
	}

	f.api.err = nil
	f.api.result = &model.TestResult{}
	if _, err := f.svc.SubmitTestSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.api.count("submit") != 2 {
		t.Fatalf("expected retry to reach the API")
	}
}

func TestLateNavigationAfterSubmitIsDiscarded(t *testing.T) {
	f := newFixture()
	f.started(t)
	f.api.result = &model.TestResult{}
	if _, err := f.svc.SubmitTestSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.api.next = &model.SubmitNextResponse{NextQuestions: pair(3, 4)}
	_, err := f.svc.SubmitAnswersAndGetNext(context.Background(), "s-1", nil)
	if !errors.Is(err, attempt.ErrStaleSession) {
		t.Fatalf("expected stale response, got %v", err)
	}
	if f.store.HasQuestions() || len(f.rec.errors) != 0 {
		t.Fatalf("late response must not touch the reset store or toast")
	}
}
