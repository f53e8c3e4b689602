package store

import (
	"context"
	"sync"

	"github.com/voicebridge/corebridge/internal/model"
)

// InMemoryStore keeps call records in a map, keyed by call ID. It never
// evicts — a process restart or a real backend is the expected way to
// bound its lifetime, matching internal/memory.InMemoryStore's own scope.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[model.CallId]CallRecord
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[model.CallId]CallRecord)}
}

func (s *InMemoryStore) SaveCall(_ context.Context, record CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.CallID] = record
	return nil
}

// Get returns the archived record for callID, for tests.
func (s *InMemoryStore) Get(callID model.CallId) (CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[callID]
	return r, ok
}

func (s *InMemoryStore) Close() error { return nil }
