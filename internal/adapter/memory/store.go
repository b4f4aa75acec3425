// Package memory implements persistence.Store in process memory. It is the
// default when no database DSN is configured.
package memory

import (
	"context"
	"sync"

	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/coordination"
	"github.com/Strob0t/decisiongate/internal/domain/emergency"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
)

// Store keeps the newest outcomesPerKey outcomes per key and the newest
// maxEvents events. Snapshots are all retained.
type Store struct {
	mu             sync.RWMutex
	outcomesPerKey int
	maxEvents      int
	seen           map[string]struct{}
	outcomes       map[outcome.Key][]outcome.Outcome
	events         []coordination.Event
	snapshots      []emergency.Snapshot
}

// NewStore creates a memory store. Non-positive limits fall back to 1000.
func NewStore(outcomesPerKey, maxEvents int) *Store {
	if outcomesPerKey <= 0 {
		outcomesPerKey = 1000
	}
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &Store{
		outcomesPerKey: outcomesPerKey,
		maxEvents:      maxEvents,
		seen:           make(map[string]struct{}),
		outcomes:       make(map[outcome.Key][]outcome.Outcome),
	}
}

// AppendOutcome implements persistence.Store.
func (s *Store) AppendOutcome(_ context.Context, o outcome.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[o.DecisionID]; dup {
		return nil
	}
	s.seen[o.DecisionID] = struct{}{}

	k := o.Key()
	list := append(s.outcomes[k], o)
	if len(list) > s.outcomesPerKey {
		list = list[len(list)-s.outcomesPerKey:]
	}
	s.outcomes[k] = list
	return nil
}

// LoadRecentOutcomes implements persistence.Store.
func (s *Store) LoadRecentOutcomes(_ context.Context, key outcome.Key, limit int) ([]outcome.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.outcomes[key]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]outcome.Outcome, len(list))
	copy(out, list)
	return out, nil
}

// AppendEvent implements persistence.Store.
func (s *Store) AppendEvent(_ context.Context, e coordination.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	return nil
}

// ListEvents implements persistence.Store.
func (s *Store) ListEvents(_ context.Context, limit int) ([]coordination.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]coordination.Event, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// SaveSnapshot implements persistence.Store.
func (s *Store) SaveSnapshot(_ context.Context, snap emergency.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// LatestSnapshot implements persistence.Store.
func (s *Store) LatestSnapshot(_ context.Context) (emergency.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return emergency.Snapshot{}, domain.ErrNotFound
	}
	return s.snapshots[len(s.snapshots)-1], nil
}
