package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Memory is an in-process KV with the same JSON semantics as Store.
type Memory struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

var _ KV = (*Memory)(nil)

// NewMemory constructs an empty in-memory KV.
func NewMemory() *Memory {
	return &Memory{values: map[string]json.RawMessage{}}
}

// Get implements KV.
func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.values[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Set implements KV.
func (m *Memory) Set(_ context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = encoded
	return nil
}

// Update implements KV.
func (m *Memory) Update(_ context.Context, key string, fn UpdateFunc) error {
	if fn == nil {
		return errors.New("update func is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, found := m.values[key]
	next, err := fn(current, found)
	if err != nil {
		return fmt.Errorf("update %q: %w", key, err)
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	m.values[key] = encoded
	return nil
}
