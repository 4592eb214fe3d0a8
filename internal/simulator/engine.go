// Package simulator implements the attempt backend contract on top of Redis:
// sessions served in pairs, answers kept per session, scoring on submit and
// a server-owned countdown pushed over the realtime channel.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// SessionTTL bounds how long session state stays in Redis.
const SessionTTL = 24 * time.Hour

// Completion reasons recorded with a result.
const (
	ReasonCompleted = "completed"
	ReasonSubmitted = "submitted"
	ReasonTimeout   = "timeout"
)

// Session hash fields.
const (
	fieldStudentID = "student_id"
	fieldTestID    = "test_id"
	fieldAttemptNo = "attempt_no"
	fieldStartedAt = "started_at"
	fieldDeadline  = "deadline_ms"
	fieldPage      = "page"
	fieldOrder     = "order"
	fieldStatus    = "status"
	fieldEndedAt   = "ended_at"
	fieldScore     = "score"
)

// Options tune the engine.
type Options struct {
	// Duration overrides every test's own duration when positive.
	Duration time.Duration
	// Shuffle randomises question order per session.
	Shuffle bool
}

// Engine serves attempt sessions.
type Engine struct {
	rdb     *redis.Client
	catalog *Catalog
	opts    Options
	log     zerolog.Logger
	now     func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(rdb *redis.Client, catalog *Catalog, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		rdb:     rdb,
		catalog: catalog,
		opts:    opts,
		log:     log.With().Str("component", "simulator").Logger(),
		now:     time.Now,
	}
}

// sessionState is the decoded session hash.
type sessionState struct {
	ID        model.ID
	StudentID model.ID
	TestID    model.ID
	AttemptNo int
	StartedAt time.Time
	Deadline  time.Time
	Page      int
	Order     []model.ID
	Status    model.SessionStatus
	EndedAt   *time.Time
	Score     *float64
}

func (s *sessionState) finished() bool { return s.EndedAt != nil }

func (s *sessionState) timed() bool { return !s.Deadline.IsZero() }

func (s *sessionState) lastPage() int {
	if len(s.Order) == 0 {
		return 0
	}
	return (len(s.Order) - 1) / model.PageSize
}

func (s *sessionState) toSession() model.Session {
	sess := model.Session{
		ID:        s.ID,
		StudentID: s.StudentID,
		TestID:    s.TestID,
		AttemptNo: s.AttemptNo,
		Status:    s.Status,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Score:     s.Score,
	}
	if s.timed() {
		sess.DurationSeconds = int(s.Deadline.Sub(s.StartedAt).Round(time.Second) / time.Second)
	}
	return sess
}

// ─── Lifecycle ──────────────────────────────────────────────────────

// Start opens a session for the student, or resumes the one in progress.
func (e *Engine) Start(ctx context.Context, studentID, testID model.ID) (*model.StartSessionResponse, error) {
	def, err := e.catalog.Test(ctx, testID)
	if err != nil {
		return nil, err
	}
	if len(def.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	activeKey := config.CacheKey.ActiveSessionKey(testID.String(), studentID.String())
	sid, err := e.rdb.Get(ctx, activeKey).Result()
	switch {
	case err == nil:
		st, err := e.load(ctx, model.ID(sid))
		if err == nil && !st.finished() {
			if !e.expired(st) {
				e.log.Info().Str("session_id", sid).Str("student_id", studentID.String()).Msg("Resuming session")
				return e.startResponse(ctx, st, def)
			}
			if _, _, err := e.finalize(ctx, st, def, ReasonTimeout); err != nil {
				return nil, err
			}
		}
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("read active session: %w", err)
	}

	attemptNo, err := e.rdb.Incr(ctx, config.CacheKey.AttemptCounterKey(testID.String(), studentID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("increment attempts: %w", err)
	}

	now := e.now()
	st := &sessionState{
		ID:        model.ID(uuid.NewString()),
		StudentID: studentID,
		TestID:    testID,
		AttemptNo: int(attemptNo),
		StartedAt: now,
		Order:     e.questionOrder(def),
		Status:    model.SessionStatusInProgress,
	}
	if d := e.duration(def); d > 0 {
		st.Deadline = now.Add(d)
	}

	orderRaw, err := json.Marshal(st.Order)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	var deadlineMs int64
	if st.timed() {
		deadlineMs = st.Deadline.UnixMilli()
	}

	key := config.CacheKey.SessionKey(st.ID.String())
	pipe := e.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		fieldStudentID, studentID.String(),
		fieldTestID, testID.String(),
		fieldAttemptNo, st.AttemptNo,
		fieldStartedAt, now.Format(time.RFC3339Nano),
		fieldDeadline, deadlineMs,
		fieldPage, 0,
		fieldOrder, string(orderRaw),
		fieldStatus, string(st.Status),
	)
	pipe.Expire(ctx, key, SessionTTL)
	pipe.Set(ctx, activeKey, st.ID.String(), SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	e.log.Info().
		Str("session_id", st.ID.String()).
		Str("student_id", studentID.String()).
		Str("test_id", testID.String()).
		Int("attempt_no", st.AttemptNo).
		Msg("Session started")

	return e.startResponse(ctx, st, def)
}

// FetchByNumber moves the session to the pair containing questionNumber.
func (e *Engine) FetchByNumber(ctx context.Context, studentID, sessionID model.ID, questionNumber int) (*model.FetchByNumberResponse, error) {
	st, def, err := e.active(ctx, studentID, sessionID)
	if err != nil {
		return nil, err
	}
	if questionNumber < 1 || questionNumber > len(st.Order) {
		return nil, ErrOutOfRange
	}

	st.Page = (questionNumber - 1) / model.PageSize
	if err := e.setPage(ctx, st); err != nil {
		return nil, err
	}

	answers, err := e.answers(ctx, st.ID)
	if err != nil {
		return nil, err
	}

	list := make([]model.AnsweredEntry, 0, len(st.Order))
	for i, id := range st.Order {
		entry := model.AnsweredEntry{QuestionID: id, DisplayNumber: i + 1}
		if sel, ok := answers[id.String()]; ok && sel != "" {
			s := sel
			entry.Answered = true
			entry.PreviousAnswer = &s
		}
		list = append(list, entry)
	}

	return &model.FetchByNumberResponse{
		Questions:        e.page(st, def, answers),
		Total:            len(st.Order),
		AnsweredList:     list,
		ShowSubmitButton: st.Page == st.lastPage(),
		Index:            questionNumber,
	}, nil
}

// SubmitAndNext saves the shown pair and advances. Submitting the last pair
// finishes the session.
func (e *Engine) SubmitAndNext(ctx context.Context, studentID, sessionID model.ID, submitted []model.AnswerSubmission) (*model.SubmitNextResponse, error) {
	st, def, err := e.active(ctx, studentID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.saveAnswers(ctx, st, submitted); err != nil {
		return nil, err
	}

	if st.Page >= st.lastPage() {
		result, won, err := e.finalize(ctx, st, def, ReasonCompleted)
		if err != nil {
			return nil, err
		}
		if !won {
			return nil, ErrAlreadyFinished
		}
		return &model.SubmitNextResponse{
			Finished:         true,
			ShowSubmitButton: true,
			Result:           result,
			Message:          "Test completed.",
		}, nil
	}

	st.Page++
	if err := e.setPage(ctx, st); err != nil {
		return nil, err
	}
	answers, err := e.answers(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	progress := model.Progress{AnsweredCount: countAnswered(st, answers), Total: len(st.Order)}
	return &model.SubmitNextResponse{
		NextQuestions:    e.page(st, def, answers),
		Progress:         &progress,
		ShowSubmitButton: st.Page == st.lastPage(),
	}, nil
}

// SubmitAndPrevious saves the shown pair and steps back one pair, never
// before the first.
func (e *Engine) SubmitAndPrevious(ctx context.Context, studentID, sessionID model.ID, submitted []model.AnswerSubmission) (*model.SubmitPreviousResponse, error) {
	st, def, err := e.active(ctx, studentID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.saveAnswers(ctx, st, submitted); err != nil {
		return nil, err
	}

	if st.Page > 0 {
		st.Page--
		if err := e.setPage(ctx, st); err != nil {
			return nil, err
		}
	}
	answers, err := e.answers(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	return &model.SubmitPreviousResponse{
		PreviousQuestions: e.page(st, def, answers),
		Progress:          model.Progress{AnsweredCount: countAnswered(st, answers), Total: len(st.Order)},
		ShowSubmitButton:  st.Page == st.lastPage(),
	}, nil
}

// SubmitSession finishes the session and returns the detailed result.
func (e *Engine) SubmitSession(ctx context.Context, studentID, sessionID model.ID) (*model.TestResult, error) {
	st, err := e.owned(ctx, studentID, sessionID)
	if err != nil {
		return nil, err
	}
	if st.finished() {
		return nil, ErrAlreadyFinished
	}
	def, err := e.catalog.Test(ctx, st.TestID)
	if err != nil {
		return nil, err
	}

	result, won, err := e.finalize(ctx, st, def, ReasonSubmitted)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyFinished
	}
	return result, nil
}

// Expire finishes a session whose time ran out. It returns the session's
// result, which may come from an earlier completion, or nil when none is
// stored yet.
func (e *Engine) Expire(ctx context.Context, sessionID model.ID) (*model.TestResult, error) {
	st, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.finished() {
		return e.storedResult(ctx, sessionID)
	}
	def, err := e.catalog.Test(ctx, st.TestID)
	if err != nil {
		return nil, err
	}
	result, won, err := e.finalize(ctx, st, def, ReasonTimeout)
	if err != nil {
		return nil, err
	}
	if won {
		e.log.Info().Str("session_id", sessionID.String()).Msg("Session expired")
	}
	return result, nil
}

// Clock is the countdown view of a session.
type Clock struct {
	Session  model.Session
	Timed    bool
	Finished bool
	// Remaining is in milliseconds, floored at 0.
	Remaining int64
}

// Clock reports the session's remaining time.
func (e *Engine) Clock(ctx context.Context, sessionID model.ID) (*Clock, error) {
	st, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c := &Clock{Session: st.toSession(), Timed: st.timed(), Finished: st.finished()}
	if c.Timed {
		if left := st.Deadline.Sub(e.now()).Milliseconds(); left > 0 {
			c.Remaining = left
		}
	}
	return c, nil
}

// Session returns a session after checking it belongs to the student.
func (e *Engine) Session(ctx context.Context, studentID, sessionID model.ID) (model.Session, error) {
	st, err := e.owned(ctx, studentID, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	return st.toSession(), nil
}

// Result returns the stored result of a finished session.
func (e *Engine) Result(ctx context.Context, studentID, sessionID model.ID) (*model.TestResult, error) {
	if _, err := e.owned(ctx, studentID, sessionID); err != nil {
		return nil, err
	}
	r, err := e.storedResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrSessionNotFound
	}
	return r, nil
}

// ListTests summarises every test for the student.
func (e *Engine) ListTests(ctx context.Context, studentID model.ID) ([]model.TestSummary, error) {
	defs, err := e.catalog.List(ctx)
	if err != nil {
		return nil, err
	}

	completedKey := config.CacheKey.CompletedTestsKey(studentID.String())
	pipe := e.rdb.Pipeline()
	attempts := make([]*redis.StringCmd, len(defs))
	completed := make([]*redis.BoolCmd, len(defs))
	for i, d := range defs {
		attempts[i] = pipe.Get(ctx, config.CacheKey.AttemptCounterKey(d.ID.String(), studentID.String()))
		completed[i] = pipe.SIsMember(ctx, completedKey, d.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read test summaries: %w", err)
	}

	out := make([]model.TestSummary, 0, len(defs))
	for i, d := range defs {
		n, _ := attempts[i].Int()
		out = append(out, model.TestSummary{
			ID:              d.ID,
			Title:           d.Title,
			CourseTitle:     d.Course.Title,
			DurationSeconds: int(e.duration(d) / time.Second),
			QuestionCount:   len(d.Questions),
			Attempts:        n,
			Completed:       completed[i].Val(),
		})
	}
	return out, nil
}

// ─── Internals ──────────────────────────────────────────────────────

func (e *Engine) duration(def *model.TestDefinition) time.Duration {
	if e.opts.Duration > 0 {
		return e.opts.Duration
	}
	return time.Duration(def.DurationSeconds) * time.Second
}

func (e *Engine) expired(st *sessionState) bool {
	return st.timed() && !e.now().Before(st.Deadline)
}

func (e *Engine) questionOrder(def *model.TestDefinition) []model.ID {
	order := make([]model.ID, len(def.Questions))
	for i, q := range def.Questions {
		order[i] = q.ID
	}
	if e.opts.Shuffle {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

func (e *Engine) load(ctx context.Context, sessionID model.ID) (*sessionState, error) {
	fields, err := e.rdb.HGetAll(ctx, config.CacheKey.SessionKey(sessionID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	st := &sessionState{
		ID:        sessionID,
		StudentID: model.ID(fields[fieldStudentID]),
		TestID:    model.ID(fields[fieldTestID]),
		Status:    model.SessionStatus(fields[fieldStatus]),
	}
	st.AttemptNo, _ = strconv.Atoi(fields[fieldAttemptNo])
	st.Page, _ = strconv.Atoi(fields[fieldPage])
	st.StartedAt, _ = time.Parse(time.RFC3339Nano, fields[fieldStartedAt])
	if ms, _ := strconv.ParseInt(fields[fieldDeadline], 10, 64); ms > 0 {
		st.Deadline = time.UnixMilli(ms)
	}
	if err := json.Unmarshal([]byte(fields[fieldOrder]), &st.Order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if raw := fields[fieldEndedAt]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			st.EndedAt = &t
		}
	}
	if raw := fields[fieldScore]; raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			st.Score = &f
		}
	}
	return st, nil
}

func (e *Engine) owned(ctx context.Context, studentID, sessionID model.ID) (*sessionState, error) {
	st, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.StudentID != studentID {
		return nil, ErrSessionForbidden
	}
	return st, nil
}

// active loads an owned, unfinished session. A session past its deadline is
// finished on the spot.
func (e *Engine) active(ctx context.Context, studentID, sessionID model.ID) (*sessionState, *model.TestDefinition, error) {
	st, err := e.owned(ctx, studentID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if st.finished() {
		return nil, nil, ErrAlreadyFinished
	}
	def, err := e.catalog.Test(ctx, st.TestID)
	if err != nil {
		return nil, nil, err
	}
	if e.expired(st) {
		if _, _, err := e.finalize(ctx, st, def, ReasonTimeout); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrAlreadyFinished
	}
	return st, def, nil
}

func (e *Engine) setPage(ctx context.Context, st *sessionState) error {
	if err := e.rdb.HSet(ctx, config.CacheKey.SessionKey(st.ID.String()), fieldPage, st.Page).Err(); err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}

func (e *Engine) answers(ctx context.Context, sessionID model.ID) (map[string]string, error) {
	answers, err := e.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(sessionID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	return answers, nil
}

// saveAnswers stores the shown pair's answers. A missing option clears a
// previous answer.
func (e *Engine) saveAnswers(ctx context.Context, st *sessionState, submitted []model.AnswerSubmission) error {
	if len(submitted) == 0 {
		return nil
	}
	onPage := make(map[model.ID]bool, model.PageSize)
	for _, id := range pageIDs(st) {
		onPage[id] = true
	}

	key := config.CacheKey.SessionAnswersKey(st.ID.String())
	pipe := e.rdb.TxPipeline()
	for _, a := range submitted {
		if !onPage[a.QuestionID] {
			return ErrUnknownQuestion
		}
		if a.SelectedOption == nil || *a.SelectedOption == "" {
			pipe.HDel(ctx, key, a.QuestionID.String())
			continue
		}
		pipe.HSet(ctx, key, a.QuestionID.String(), *a.SelectedOption)
	}
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answers: %w", err)
	}
	return nil
}

func pageIDs(st *sessionState) []model.ID {
	from := st.Page * model.PageSize
	if from >= len(st.Order) {
		return nil
	}
	to := from + model.PageSize
	if to > len(st.Order) {
		to = len(st.Order)
	}
	return st.Order[from:to]
}

func countAnswered(st *sessionState, answers map[string]string) int {
	n := 0
	for _, id := range st.Order {
		if answers[id.String()] != "" {
			n++
		}
	}
	return n
}

// page renders the session's current pair.
func (e *Engine) page(st *sessionState, def *model.TestDefinition, answers map[string]string) []model.Question {
	byID := make(map[model.ID]*model.BankQuestion, len(def.Questions))
	for i := range def.Questions {
		byID[def.Questions[i].ID] = &def.Questions[i]
	}

	ids := pageIDs(st)
	out := make([]model.Question, 0, len(ids))
	for i, id := range ids {
		q, ok := byID[id]
		if !ok {
			continue
		}
		var selected *string
		if sel, ok := answers[id.String()]; ok && sel != "" {
			s := sel
			selected = &s
		}
		out = append(out, wireQuestion(q, st.Page*model.PageSize+i+1, selected))
	}
	return out
}

// wireQuestion strips the correct option. Legacy banks keep their raw
// option string on the wire.
func wireQuestion(q *model.BankQuestion, displayNumber int, selected *string) model.Question {
	var opts json.RawMessage
	if q.RawOptions != "" {
		opts, _ = json.Marshal(q.RawOptions)
	} else {
		list := q.Options
		if list == nil {
			list = []string{}
		}
		opts, _ = json.Marshal(list)
	}
	return model.Question{
		ID:                q.ID,
		Text:              q.Text,
		Options:           opts,
		Marks:             q.MarksOrDefault(),
		BankID:            q.BankID,
		DisplayNumber:     displayNumber,
		SelectedOption:    selected,
		ImageURL:          q.ImageURL,
		ComprehensionText: q.ComprehensionText,
	}
}

func (e *Engine) startResponse(ctx context.Context, st *sessionState, def *model.TestDefinition) (*model.StartSessionResponse, error) {
	answers, err := e.answers(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	return &model.StartSessionResponse{
		Session:   st.toSession(),
		Questions: e.page(st, def, answers),
		Progress:  model.Progress{AnsweredCount: countAnswered(st, answers), Total: len(st.Order)},
		Student:   model.Student{ID: st.StudentID, Name: "Student " + st.StudentID.String()},
		Course:    def.Course,
	}, nil
}

// finalize scores and closes a session exactly once. The ended_at field is
// the latch: only the caller that sets it writes the result. Losers get the
// stored result, if already written, and won=false.
func (e *Engine) finalize(ctx context.Context, st *sessionState, def *model.TestDefinition, reason string) (*model.TestResult, bool, error) {
	key := config.CacheKey.SessionKey(st.ID.String())
	now := e.now()

	won, err := e.rdb.HSetNX(ctx, key, fieldEndedAt, now.Format(time.RFC3339Nano)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("close session: %w", err)
	}
	if !won {
		r, err := e.storedResult(ctx, st.ID)
		return r, false, err
	}

	answers, err := e.answers(ctx, st.ID)
	if err != nil {
		return nil, false, err
	}

	result := score(def, st.Order, answers)
	st.EndedAt = &now
	st.Score = &result.Score
	st.Status = model.SessionStatusFailed
	if passed(def, result.Percentage) {
		st.Status = model.SessionStatusPassed
	}
	result.Session = st.toSession()

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("encode result: %w", err)
	}
	record, err := json.Marshal(repository.ResultRecord{
		SessionID:  st.ID.String(),
		StudentID:  st.StudentID.String(),
		TestID:     st.TestID.String(),
		AttemptNo:  st.AttemptNo,
		Status:     string(st.Status),
		Score:      result.Score,
		TotalMarks: result.TotalMarks,
		Reason:     reason,
		StartedAt:  st.StartedAt,
		EndedAt:    now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("encode result record: %w", err)
	}

	pipe := e.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldStatus, string(st.Status), fieldScore, result.Score)
	pipe.Set(ctx, config.CacheKey.SessionResultKey(st.ID.String()), raw, SessionTTL)
	pipe.SAdd(ctx, config.CacheKey.CompletedTestsKey(st.StudentID.String()), st.TestID.String())
	pipe.Del(ctx, config.CacheKey.ActiveSessionKey(st.TestID.String(), st.StudentID.String()))
	pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, record)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("store result: %w", err)
	}

	e.log.Info().
		Str("session_id", st.ID.String()).
		Str("reason", reason).
		Float64("score", result.Score).
		Float64("percentage", result.Percentage).
		Str("status", string(st.Status)).
		Msg("Session finished")

	return &result, true, nil
}

func (e *Engine) storedResult(ctx context.Context, sessionID model.ID) (*model.TestResult, error) {
	raw, err := e.rdb.Get(ctx, config.CacheKey.SessionResultKey(sessionID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	var r model.TestResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}
