package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ─── Client-side keys ───────────────────────────────────────────────

// AttemptResultKey returns the key holding a finished session's result.
func (r *CacheKeyStruct) AttemptResultKey(sessionID string) string {
	return fmt.Sprintf("attempt:result:%s", sessionID)
}

// LatestResultKey returns the key pointing at a student's most recent result.
func (r *CacheKeyStruct) LatestResultKey(studentID string) string {
	return fmt.Sprintf("attempt:student:%s:latest_result", studentID)
}

// QueryKey returns the key of a cached query (dashboard, test list) for a student.
func (r *CacheKeyStruct) QueryKey(scope, studentID string) string {
	return fmt.Sprintf("query:%s:student:%s", scope, studentID)
}

// QueryScopePattern matches every cached entry of a query scope.
func (r *CacheKeyStruct) QueryScopePattern(scope string) string {
	return fmt.Sprintf("query:%s:*", scope)
}

// ─── Simulator keys ─────────────────────────────────────────────────

// SessionKey returns the hash holding a simulated session's fields.
func (r *CacheKeyStruct) SessionKey(sessionID string) string {
	return fmt.Sprintf("sim:session:%s", sessionID)
}

// SessionAnswersKey returns the hash of question id to selected option.
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("sim:session:%s:answers", sessionID)
}

// SessionResultKey returns the key caching a finished session's result.
func (r *CacheKeyStruct) SessionResultKey(sessionID string) string {
	return fmt.Sprintf("sim:session:%s:result", sessionID)
}

// AttemptCounterKey returns the counter of attempts per student and test.
func (r *CacheKeyStruct) AttemptCounterKey(testID, studentID string) string {
	return fmt.Sprintf("sim:student:%s:test:%s:attempts", studentID, testID)
}

// ActiveSessionKey returns the key pointing at a student's in-progress session for a test.
func (r *CacheKeyStruct) ActiveSessionKey(testID, studentID string) string {
	return fmt.Sprintf("sim:student:%s:test:%s:active", studentID, testID)
}

// CompletedTestsKey returns the set of tests a student has completed.
func (r *CacheKeyStruct) CompletedTestsKey(studentID string) string {
	return fmt.Sprintf("sim:student:%s:completed", studentID)
}

var CacheKey = NewCacheKeyStruct()
