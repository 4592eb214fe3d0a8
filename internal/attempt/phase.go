package attempt

import "github.com/stemsi/exstem-attempt/internal/model"

// Phase is the lifecycle stage of the attempt.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseActive     Phase = "ACTIVE"
	PhaseSubmitting Phase = "SUBMITTING"
	PhaseSubmitted  Phase = "SUBMITTED"
)

// Phase returns the current lifecycle stage.
func (s *Store) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.phase
}

// BeginSubmit moves ACTIVE to SUBMITTING for sessionID. It returns false when
// the session is not loaded or a submission has already started, which makes
// it the one-shot latch for ending a session.
func (s *Store) BeginSubmit(sessionID model.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st.session == nil || s.st.session.ID != sessionID || s.st.phase != PhaseActive {
		return false
	}
	s.st.phase = PhaseSubmitting
	return true
}

// EndSubmit settles a submission started by BeginSubmit. On success the
// phase becomes SUBMITTED; on failure it returns to ACTIVE so the student can
// retry.
func (s *Store) EndSubmit(sessionID model.ID, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st.session == nil || s.st.session.ID != sessionID || s.st.phase != PhaseSubmitting {
		return ErrNotActive
	}
	if ok {
		s.st.phase = PhaseSubmitted
	} else {
		s.st.phase = PhaseActive
	}
	return nil
}
