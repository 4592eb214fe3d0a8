// Package attempt holds the in-progress test attempt: session, current
// question batch, answers and the question map the navigator reads.
//
// All writes go through named mutators so the merge rules hold: the answer
// map and the question map only ever grow (or are remapped) until Reset.
package attempt

import (
	"errors"
	"sync"

	"github.com/stemsi/exstem-attempt/internal/model"
)

var (
	// ErrStaleSession is returned by Apply when the store has moved on to a
	// different session or out of the ACTIVE phase.
	ErrStaleSession = errors.New("attempt: stale session")
	// ErrNotActive is returned when a submission is requested outside ACTIVE.
	ErrNotActive = errors.New("attempt: session not active")
)

// Store is the single source of truth for one attempt view.
type Store struct {
	mu sync.RWMutex
	st state
}

type state struct {
	phase            Phase
	session          *model.Session
	questions        []model.Question
	progress         model.Progress
	student          *model.Student
	course           *model.Course
	anchor           int
	answers          map[model.ID]string
	showSubmitButton bool
	questionMap      map[model.ID]int
}

func newState() state {
	return state{
		phase:       PhaseIdle,
		answers:     make(map[model.ID]string),
		questionMap: make(map[model.ID]int),
	}
}

// NewStore returns an empty store in the IDLE phase.
func NewStore() *Store {
	return &Store{st: newState()}
}

// ─── Mutators ───────────────────────────────────────────────────────

// SetSession installs the session and enters ACTIVE.
func (s *Store) SetSession(sess model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.setSession(sess)
}

// SetQuestions replaces the current batch.
func (s *Store) SetQuestions(qs []model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.questions = cloneQuestions(qs)
}

// SetProgress replaces the progress counters.
func (s *Store) SetProgress(p model.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.progress = p
}

// SetStudent records the student taking the attempt.
func (s *Store) SetStudent(st model.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.student = &st
}

// SetCourse records the course the test belongs to.
func (s *Store) SetCourse(c model.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.course = &c
}

// UpdateAnswer records the option chosen for a question. An empty option
// removes the key, returning the question to unattempted.
func (s *Store) UpdateAnswer(questionID model.ID, option string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.updateAnswer(questionID, option)
}

// SetAnswers merges answers into the map. Existing keys not present in
// answers are kept.
func (s *Store) SetAnswers(answers map[model.ID]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.mergeAnswers(answers)
}

// MergeAnswers merges the selectedOption echoes of a batch. Questions
// without an echo leave local edits alone.
func (s *Store) MergeAnswers(qs []model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.mergeEchoes(qs)
}

// UpdateQuestionMap adds id to display number entries. Known ids are never
// removed; an id may be remapped.
func (s *Store) UpdateQuestionMap(entries map[model.ID]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.updateQuestionMap(entries)
}

// SetCurrentPage sets the display-number anchor of the shown batch.
func (s *Store) SetCurrentPage(anchor int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.setAnchor(anchor)
}

// SetShowSubmitButton toggles the submit control.
func (s *Store) SetShowSubmitButton(show bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.showSubmitButton = show
}

// Reset clears every field and returns to IDLE.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = newState()
}

// ─── Guarded transactions ───────────────────────────────────────────

// Tx exposes the mutators inside Apply. It must not escape fn.
type Tx struct {
	st *state
}

func (tx *Tx) SetQuestions(qs []model.Question)           { tx.st.questions = cloneQuestions(qs) }
func (tx *Tx) SetProgress(p model.Progress)               { tx.st.progress = p }
func (tx *Tx) SetAnswers(answers map[model.ID]string)     { tx.st.mergeAnswers(answers) }
func (tx *Tx) MergeAnswers(qs []model.Question)           { tx.st.mergeEchoes(qs) }
func (tx *Tx) UpdateQuestionMap(entries map[model.ID]int) { tx.st.updateQuestionMap(entries) }
func (tx *Tx) SetCurrentPage(anchor int)                  { tx.st.setAnchor(anchor) }
func (tx *Tx) SetShowSubmitButton(show bool)              { tx.st.showSubmitButton = show }

// CurrentPage returns the anchor as seen inside the transaction.
func (tx *Tx) CurrentPage() int { return tx.st.anchor }

// Apply runs fn atomically if the store still holds sessionID in the ACTIVE
// phase. Responses to requests made for an earlier session, or arriving
// after submission started, are refused with ErrStaleSession.
func (s *Store) Apply(sessionID model.ID, fn func(tx *Tx)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st.session == nil || s.st.session.ID != sessionID || s.st.phase != PhaseActive {
		return ErrStaleSession
	}
	fn(&Tx{st: &s.st})
	return nil
}

// Begin populates a fresh attempt in one step and enters ACTIVE. It fails
// with ErrSessionLoaded when questions are already present.
func (s *Store) Begin(sess model.Session, qs []model.Question, p model.Progress, student *model.Student, course *model.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.st.questions) > 0 {
		return ErrSessionLoaded
	}
	s.st.setSession(sess)
	s.st.questions = cloneQuestions(qs)
	s.st.progress = p
	if student != nil {
		v := *student
		s.st.student = &v
	}
	if course != nil {
		v := *course
		s.st.course = &v
	}
	s.st.setAnchor(model.FirstDisplayNumber(qs))
	s.st.mergeEchoes(qs)
	s.st.updateQuestionMap(QuestionMapOf(qs))
	return nil
}

// ErrSessionLoaded is returned by Begin when an attempt is already loaded.
var ErrSessionLoaded = errors.New("attempt: session already loaded")

// ─── state helpers ──────────────────────────────────────────────────

func (st *state) setSession(sess model.Session) {
	v := sess
	st.session = &v
	st.phase = PhaseActive
}

func (st *state) setAnchor(anchor int) {
	if anchor < 1 {
		anchor = 1
	}
	st.anchor = anchor
}

func (st *state) updateAnswer(id model.ID, option string) {
	if id.IsZero() {
		return
	}
	if option == "" {
		delete(st.answers, id)
		return
	}
	st.answers[id] = option
}

func (st *state) mergeAnswers(answers map[model.ID]string) {
	for id, opt := range answers {
		if opt == "" {
			continue
		}
		st.updateAnswer(id, opt)
	}
}

func (st *state) mergeEchoes(qs []model.Question) {
	for _, q := range qs {
		if q.SelectedOption != nil && *q.SelectedOption != "" {
			st.answers[q.ID] = *q.SelectedOption
		}
	}
}

func (st *state) updateQuestionMap(entries map[model.ID]int) {
	for id, n := range entries {
		if id.IsZero() || n < 1 {
			continue
		}
		st.questionMap[id] = n
	}
}

// QuestionMapOf builds question map entries from a batch.
func QuestionMapOf(qs []model.Question) map[model.ID]int {
	out := make(map[model.ID]int, len(qs))
	for _, q := range qs {
		if q.DisplayNumber > 0 {
			out[q.ID] = q.DisplayNumber
		}
	}
	return out
}

func cloneQuestions(qs []model.Question) []model.Question {
	if qs == nil {
		return nil
	}
	out := make([]model.Question, len(qs))
	copy(out, qs)
	return out
}
