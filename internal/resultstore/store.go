// Package resultstore keeps finished test results outside the attempt store
// so the test-ended and corrections screens can read them after the attempt
// has been reset.
package resultstore

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// ErrNotFound is returned when no result is stored for the key.
var ErrNotFound = errors.New("resultstore: result not found")

// Store persists finished results.
type Store interface {
	// Save records the result under its session id and marks it as the
	// student's latest.
	Save(ctx context.Context, result model.TestResult) error
	Get(ctx context.Context, sessionID model.ID) (*model.TestResult, error)
	Latest(ctx context.Context, studentID model.ID) (*model.TestResult, error)
}
