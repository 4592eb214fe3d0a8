package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	data    []byte
	expires time.Time
}

// Memory is an in-process Cache with a per-entry TTL.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]map[string]entry
}

// NewMemory returns a Memory cache. A zero ttl never expires entries.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[string]entry),
	}
}

func (m *Memory) Get(_ context.Context, scope, studentID string, dst interface{}) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[scope][studentID]
	if ok && m.ttl > 0 && m.now().After(e.expires) {
		delete(m.entries[scope], studentID)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", scope, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, scope, studentID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", scope, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[scope] == nil {
		m.entries[scope] = make(map[string]entry)
	}
	m.entries[scope][studentID] = entry{data: data, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, scopes ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range scopes {
		delete(m.entries, s)
	}
	return nil
}
