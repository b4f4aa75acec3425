package service

import (
	"context"
	"errors"
	"sync"

	"github.com/Strob0t/decisiongate/internal/domain/coordination"
	"github.com/Strob0t/decisiongate/internal/domain/emergency"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
)

// recordingHub captures broadcast events.
type recordingHub struct {
	mu     sync.Mutex
	events []hubEvent
}

type hubEvent struct {
	Type    string
	Payload any
}

func (h *recordingHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{Type: eventType, Payload: payload})
}

func (h *recordingHub) ofType(eventType string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, e := range h.events {
		if e.Type == eventType {
			out = append(out, e.Payload)
		}
	}
	return out
}

// fakeQueue captures published messages and delivers them to subscribers.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]messagequeue.Handler
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string]messagequeue.Handler),
	}
}

func (q *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	q.published[subject] = append(q.published[subject], data)
	h := q.handlers[subject]
	q.mu.Unlock()
	if h != nil {
		return h(ctx, subject, data)
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = handler
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

// failingStore rejects every write.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) AppendOutcome(context.Context, outcome.Outcome) error { return errStoreDown }
func (failingStore) AppendEvent(context.Context, coordination.Event) error {
	return errStoreDown
}

func (failingStore) LoadRecentOutcomes(context.Context, outcome.Key, int) ([]outcome.Outcome, error) {
	return nil, errStoreDown
}

func (failingStore) ListEvents(context.Context, int) ([]coordination.Event, error) {
	return nil, errStoreDown
}
func (failingStore) SaveSnapshot(context.Context, emergency.Snapshot) error { return errStoreDown }
func (failingStore) LatestSnapshot(context.Context) (emergency.Snapshot, error) {
	return emergency.Snapshot{}, errStoreDown
}
