package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/degraded mode)
// =============================================================================

// Memory keeps values in a map. Values are copied on the way in and out so
// callers can never alias stored bytes.
type Memory struct {
	mu     sync.RWMutex
	open   bool
	values map[string]json.RawMessage
	fail   map[string]int
	writes map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]json.RawMessage),
		fail:   make(map[string]int),
		writes: make(map[string]int),
	}
}

// FailNextWrites makes the next n Set calls for key fail with a *WriteError.
func (m *Memory) FailNextWrites(key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[key] = n
}

// Writes returns how many Set calls for key have succeeded.
func (m *Memory) Writes(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[key]
}

// Open marks the store usable. Idempotent.
func (m *Memory) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.open {
		return nil, false, ErrNotOpen
	}
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}
	if n := m.fail[key]; n > 0 {
		m.fail[key] = n - 1
		return &WriteError{Key: key, Cause: errInjected}
	}
	m.values[key] = bytes.Clone(value)
	m.writes[key]++
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// Keys returns the keys currently set.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

type injectedError struct{}

func (injectedError) Error() string { return "injected write failure" }

var errInjected error = injectedError{}
