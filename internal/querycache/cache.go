// Package querycache caches read-only student queries (dashboard, test list)
// and drops them when an attempt finishes.
package querycache

import (
	"context"
	"fmt"
)

// Query scopes invalidated when a session is submitted.
const (
	ScopeDashboard = "dashboard"
	ScopeTests     = "tests"
)

// Invalidator drops every cached entry of the given scopes.
type Invalidator interface {
	Invalidate(ctx context.Context, scopes ...string) error
}

// Cache stores JSON-encodable query results per scope and student.
type Cache interface {
	Invalidator
	// Get decodes the cached value into dst and reports whether it was found.
	Get(ctx context.Context, scope, studentID string, dst interface{}) (bool, error)
	Set(ctx context.Context, scope, studentID string, v interface{}) error
}

// Fetch returns the cached value of scope for the student, calling load and
// caching its result on a miss. Cache failures fall through to load.
func Fetch[T any](ctx context.Context, c Cache, scope, studentID string, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if ok, err := c.Get(ctx, scope, studentID, &cached); err == nil && ok {
		return cached, nil
	}

	v, err := load(ctx)
	if err != nil {
		return v, fmt.Errorf("load %s: %w", scope, err)
	}
	_ = c.Set(ctx, scope, studentID, v)
	return v, nil
}
