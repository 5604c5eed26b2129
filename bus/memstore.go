package bus

import (
	"context"
	"sync"

	"github.com/petal-labs/monkeyml/session"
)

// MemEventStore is a thread-safe in-memory event store.
type MemEventStore struct {
	mu     sync.RWMutex
	events map[string][]session.Event // session ID -> events
	order  []string                   // session IDs in first-seen order
}

// NewMemEventStore creates a new in-memory event store.
func NewMemEventStore() *MemEventStore {
	return &MemEventStore{
		events: make(map[string][]session.Event),
	}
}

func (s *MemEventStore) Append(_ context.Context, event session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.SessionID]; !ok {
		s.order = append(s.order, event.SessionID)
	}
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

func (s *MemEventStore) List(_ context.Context, sessionID string, afterSeq uint64, limit int) ([]session.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []session.Event
	for _, e := range s.events[sessionID] {
		if e.Seq <= afterSeq {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemEventStore) LatestSeq(_ context.Context, sessionID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxSeq uint64
	for _, e := range s.events[sessionID] {
		maxSeq = max(maxSeq, e.Seq)
	}
	return maxSeq, nil
}

func (s *MemEventStore) SessionIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids, nil
}

// Compile-time interface check.
var _ EventStore = (*MemEventStore)(nil)
