// Package persistencetest provides a compliance suite shared by persistence adapters.
package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/coordination"
	"github.com/Strob0t/decisiongate/internal/domain/emergency"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
	"github.com/Strob0t/decisiongate/internal/port/persistence"
)

// RunComplianceTests runs the standard suite against any Store. Fresh
// ids are used so the suite can run against a shared database.
func RunComplianceTests(t *testing.T, s persistence.Store) {
	t.Helper()
	ctx := context.Background()
	capability := action.Capability("cap-" + uuid.NewString()[:8])
	key := outcome.Key{Capability: capability, Level: action.LevelAutonomous}

	t.Run("OutcomesOldestFirst", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Millisecond)
		for i := range 5 {
			o := outcome.Outcome{
				DecisionID: uuid.NewString(),
				Capability: capability,
				Level:      action.LevelAutonomous,
				Confidence: 0.8,
				Success:    i%2 == 0,
				Timestamp:  base.Add(time.Duration(i) * time.Second),
				Context:    map[string]any{"i": float64(i)},
			}
			if err := s.AppendOutcome(ctx, o); err != nil {
				t.Fatalf("AppendOutcome: %v", err)
			}
		}

		got, err := s.LoadRecentOutcomes(ctx, key, 3)
		if err != nil {
			t.Fatalf("LoadRecentOutcomes: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 outcomes, got %d", len(got))
		}
		if got[0].Context["i"] != float64(2) || got[2].Context["i"] != float64(4) {
			t.Fatalf("expected outcomes 2..4 oldest first, got %v .. %v", got[0].Context, got[2].Context)
		}
	})

	t.Run("DuplicateOutcomeIgnored", func(t *testing.T) {
		dupKey := outcome.Key{Capability: capability, Level: action.LevelAdvisory}
		o := outcome.Outcome{
			DecisionID: uuid.NewString(),
			Capability: capability,
			Level:      action.LevelAdvisory,
			Confidence: 0.7,
			Success:    true,
			Timestamp:  time.Now().UTC(),
		}
		for range 2 {
			if err := s.AppendOutcome(ctx, o); err != nil {
				t.Fatalf("AppendOutcome: %v", err)
			}
		}
		got, err := s.LoadRecentOutcomes(ctx, dupKey, 10)
		if err != nil {
			t.Fatalf("LoadRecentOutcomes: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected duplicate to be ignored, got %d outcomes", len(got))
		}
	})

	t.Run("EventsNewestFirst", func(t *testing.T) {
		first := coordination.Event{
			ID:        uuid.NewString(),
			Trigger:   "health_sweep",
			Timestamp: time.Now().UTC(),
			Status:    coordination.StatusSuccess,
			Steps: []coordination.StepResult{
				{Index: 1, Target: "analytics", Operation: "health_report", Status: coordination.StepSuccess},
			},
		}
		second := coordination.Event{
			ID:        uuid.NewString(),
			Trigger:   "security_incident",
			Timestamp: time.Now().UTC(),
			Status:    coordination.StatusFailed,
			Fallback: &coordination.Escalation{
				Strategy:   coordination.FallbackCircuitBreaker,
				Reason:     "security.scan failed",
				FailedStep: 1,
				Severity:   "critical",
			},
		}
		for _, e := range []coordination.Event{first, second} {
			if err := s.AppendEvent(ctx, e); err != nil {
				t.Fatalf("AppendEvent: %v", err)
			}
		}

		got, err := s.ListEvents(ctx, 2)
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID {
			t.Fatalf("expected newest first, got %+v", got)
		}
		if got[0].Fallback == nil || got[0].Fallback.Strategy != coordination.FallbackCircuitBreaker {
			t.Fatalf("expected fallback to round trip, got %+v", got[0].Fallback)
		}
		if len(got[1].Steps) != 1 || got[1].Steps[0].Operation != "health_report" {
			t.Fatalf("expected steps to round trip, got %+v", got[1].Steps)
		}
	})

	t.Run("LatestSnapshot", func(t *testing.T) {
		snap := emergency.Snapshot{
			ID:               uuid.NewString(),
			TakenAt:          time.Now().UTC(),
			Reason:           "3 consecutive critical signals",
			State:            emergency.State{Paused: true, Phase: emergency.PhasePaused, ConsecutiveCritical: 3},
			PendingCancelled: []string{"a1", "a2"},
			Health:           map[string]string{"treasury": "error"},
		}
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
		got, err := s.LatestSnapshot(ctx)
		if err != nil {
			t.Fatalf("LatestSnapshot: %v", err)
		}
		if got.ID != snap.ID || !got.State.Paused || len(got.PendingCancelled) != 2 {
			t.Fatalf("unexpected snapshot %+v", got)
		}
	})
}

// RunEmptyTests checks behavior on a store that has never been written to.
func RunEmptyTests(t *testing.T, s persistence.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, err := s.LoadRecentOutcomes(ctx, outcome.Key{Capability: "none", Level: action.LevelAdvisory}, 10)
	if err != nil {
		t.Fatalf("LoadRecentOutcomes: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no outcomes, got %d", len(got))
	}
}
