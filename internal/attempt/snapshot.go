package attempt

import (
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Snapshot is a read-only copy of the store.
type Snapshot struct {
	Phase            Phase
	Session          *model.Session
	Questions        []model.Question
	Progress         model.Progress
	Student          *model.Student
	Course           *model.Course
	CurrentPage      int
	Answers          map[model.ID]string
	ShowSubmitButton bool
	QuestionMap      map[model.ID]int
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Phase:            s.st.phase,
		Questions:        cloneQuestions(s.st.questions),
		Progress:         s.st.progress,
		CurrentPage:      s.st.anchor,
		ShowSubmitButton: s.st.showSubmitButton,
		Answers:          make(map[model.ID]string, len(s.st.answers)),
		QuestionMap:      make(map[model.ID]int, len(s.st.questionMap)),
	}
	if s.st.session != nil {
		v := *s.st.session
		snap.Session = &v
	}
	if s.st.student != nil {
		v := *s.st.student
		snap.Student = &v
	}
	if s.st.course != nil {
		v := *s.st.course
		snap.Course = &v
	}
	for k, v := range s.st.answers {
		snap.Answers[k] = v
	}
	for k, v := range s.st.questionMap {
		snap.QuestionMap[k] = v
	}
	return snap
}

// SessionID returns the loaded session id, or "" when idle.
func (s *Store) SessionID() model.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st.session == nil {
		return ""
	}
	return s.st.session.ID
}

// HasQuestions reports whether a batch is loaded.
func (s *Store) HasQuestions() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.questions) > 0
}

// CurrentPage returns the display-number anchor of the shown batch.
func (s *Store) CurrentPage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.anchor
}

// PageIndex is the zero-based page of the shown batch.
func (s *Store) PageIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return PageIndexOf(s.st.anchor)
}

// Answer returns the option recorded for a question.
func (s *Store) Answer(questionID model.ID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opt, ok := s.st.answers[questionID]
	return opt, ok
}

// CurrentAnswers lists the shown batch's question ids with their local
// answers, ready to submit. Unattempted questions carry a nil option.
func (s *Store) CurrentAnswers() []model.AnswerSubmission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AnswerSubmission, 0, len(s.st.questions))
	for _, q := range s.st.questions {
		sub := model.AnswerSubmission{QuestionID: q.ID}
		if opt, ok := s.st.answers[q.ID]; ok {
			v := opt
			sub.SelectedOption = &v
		}
		out = append(out, sub)
	}
	return out
}

// PageIndexOf converts a display-number anchor into a zero-based page index.
func PageIndexOf(anchor int) int {
	if anchor < 1 {
		return 0
	}
	return (anchor - 1) / model.PageSize
}
