package simulator

import "errors"

var (
	ErrTestNotFound     = errors.New("test not found")
	ErrNoQuestions      = errors.New("test has no questions")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionForbidden = errors.New("session belongs to another student")
	ErrAlreadyFinished  = errors.New("session already finished")
	ErrOutOfRange       = errors.New("question number out of range")
	ErrUnknownQuestion  = errors.New("answer for a question outside the current page")
)
