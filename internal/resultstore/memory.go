package resultstore

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	results map[model.ID]model.TestResult
	latest  map[model.ID]model.ID
}

func NewMemory() *Memory {
	return &Memory{
		results: make(map[model.ID]model.TestResult),
		latest:  make(map[model.ID]model.ID),
	}
}

func (m *Memory) Save(_ context.Context, result model.TestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.Session.ID] = result
	if !result.Session.StudentID.IsZero() {
		m.latest[result.Session.StudentID] = result.Session.ID
	}
	return nil
}

func (m *Memory) Get(_ context.Context, sessionID model.ID) (*model.TestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) Latest(ctx context.Context, studentID model.ID) (*model.TestResult, error) {
	m.mu.RLock()
	id, ok := m.latest[studentID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Get(ctx, id)
}
