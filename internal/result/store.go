// Package result keeps the values produced by the steps of one run so later
// steps can refer back to them.
package result

import (
	"context"
	"strconv"
	"sync"

	"Stepwise-Agent/pkg/value"
)

// Store maps step numbers to the values those steps produced. A store lives
// for exactly one run.
type Store interface {
	Put(ctx context.Context, stepNumber int, v value.Value) error
	Get(ctx context.Context, stepNumber int) (value.Value, bool, error)
	Discard(ctx context.Context) error
}

// Factory creates an empty store for a run.
type Factory func(taskID string) (Store, error)

// Key renders a step number the way entries are keyed.
func Key(stepNumber int) string {
	return strconv.Itoa(stepNumber)
}

// MemoryStore keeps values in process. Values are stored as-is, so a later
// Get returns the very value that was Put.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]value.Value
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]value.Value)}
}

// MemoryFactory is the default Factory.
func MemoryFactory(string) (Store, error) {
	return NewMemoryStore(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, stepNumber int, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string]value.Value)
	}
	s.entries[Key(stepNumber)] = v
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, stepNumber int) (value.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[Key(stepNumber)]
	return v, ok, nil
}

// Discard implements Store.
func (s *MemoryStore) Discard(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]value.Value)
	return nil
}

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
