package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrStoreClosed is returned by shared store operations after Close.
var ErrStoreClosed = errors.New("shared store is closed")

// Change records one mutation of a shared store.
type Change struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Shared is a key-value store visible to every agent in a system, with a
// history of all writes. The default implementation is in-process; a Redis
// implementation is available for sharing state across processes.
type Shared interface {
	// Set stores a value and records the write in history.
	Set(ctx context.Context, key string, value any) error

	// Get retrieves a value. The second return is false when the key is
	// absent; absence is not an error.
	Get(ctx context.Context, key string) (any, bool, error)

	// Update stores several values, recording each write.
	Update(ctx context.Context, values map[string]any) error

	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys returns all stored keys, sorted.
	Keys(ctx context.Context) ([]string, error)

	// History returns recorded writes oldest first. A non-empty key
	// filters to writes of that key.
	History(ctx context.Context, key string) ([]Change, error)

	// Close releases any resources held by the store.
	Close() error
}

// memShared is the in-process Shared implementation.
type memShared struct {
	mu      sync.RWMutex
	data    map[string]any
	history []Change
	closed  bool
}

// NewShared creates an in-process shared store.
func NewShared() Shared {
	return &memShared{data: make(map[string]any)}
}

func (s *memShared) Set(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.data[key] = value
	s.history = append(s.history, Change{Key: key, Value: value, Timestamp: time.Now().UTC()})
	return nil
}

func (s *memShared) Get(ctx context.Context, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memShared) Update(ctx context.Context, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	now := time.Now().UTC()
	for k, v := range values {
		s.data[k] = v
		s.history = append(s.history, Change{Key: k, Value: v, Timestamp: now})
	}
	return nil
}

func (s *memShared) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}

func (s *memShared) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memShared) History(ctx context.Context, key string) ([]Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if key == "" {
		out := make([]Change, len(s.history))
		copy(out, s.history)
		return out, nil
	}
	var out []Change
	for _, c := range s.history {
		if c.Key == key {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memShared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
