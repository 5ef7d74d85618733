package bus

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/petal-labs/nodeschema/runtime"
)

// MemEventStore is a thread-safe in-memory event store. When Limit is set,
// each configuration keeps only its most recent Limit events.
type MemEventStore struct {
	mu     sync.RWMutex
	events map[string][]runtime.Event // configID -> events
	limit  int
}

// NewMemEventStore creates an in-memory store keeping at most limit events
// per configuration (0 = unbounded).
func NewMemEventStore(limit int) *MemEventStore {
	return &MemEventStore{
		events: make(map[string][]runtime.Event),
		limit:  limit,
	}
}

func (s *MemEventStore) Append(_ context.Context, event runtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.events[event.ConfigID], event)
	if s.limit > 0 && len(events) > s.limit {
		events = slices.Clone(events[len(events)-s.limit:])
	}
	s.events[event.ConfigID] = events
	return nil
}

func (s *MemEventStore) List(_ context.Context, configID string, afterSeq uint64, limit int) ([]runtime.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []runtime.Event
	for _, e := range s.events[configID] {
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

func (s *MemEventStore) LatestSeq(_ context.Context, configID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest uint64
	for _, e := range s.events[configID] {
		latest = max(latest, e.Seq)
	}
	return latest, nil
}

func (s *MemEventStore) ConfigIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.events)), nil
}

var _ EventStore = (*MemEventStore)(nil)
