package model

import "time"

// SessionStatus enumerates attempt session states as reported by the backend.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in-progress"
	SessionStatusPassed     SessionStatus = "passed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusPending    SessionStatus = "pending"
)

// Session is one student's attempt at one test.
type Session struct {
	ID              ID            `json:"id"`
	StudentID       ID            `json:"studentId"`
	TestID          ID            `json:"testId"`
	AttemptNo       int           `json:"attemptNo"`
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"startedAt"`
	EndedAt         *time.Time    `json:"endedAt"`
	Score           *float64      `json:"score"`
	DurationSeconds int           `json:"durationSeconds,omitempty"`
}

// InProgress reports whether the session has not been submitted yet.
func (s *Session) InProgress() bool {
	return s != nil && s.EndedAt == nil && s.Status == SessionStatusInProgress
}

// Student is the attempting student as echoed by start-session.
type Student struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Course is the course the test belongs to.
type Course struct {
	ID    ID     `json:"id"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

// Progress is always taken from the latest server response.
type Progress struct {
	AnsweredCount int `json:"answeredCount"`
	Total         int `json:"total"`
}

// TestSummary is one row of the student's test list.
type TestSummary struct {
	ID              ID     `json:"id"`
	Title           string `json:"title"`
	CourseTitle     string `json:"courseTitle"`
	DurationSeconds int    `json:"durationSeconds"`
	QuestionCount   int    `json:"questionCount"`
	Attempts        int    `json:"attempts"`
	Completed       bool   `json:"completed"`
}
