// Package persistence defines the storage port for decision outcomes,
// coordination events and emergency snapshots.
package persistence

import (
	"context"

	"github.com/Strob0t/decisiongate/internal/domain/coordination"
	"github.com/Strob0t/decisiongate/internal/domain/emergency"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
)

// Store is append-only for outcomes and events. Implementations must be safe
// for concurrent use.
type Store interface {
	// AppendOutcome records a decision outcome. Appending an outcome whose
	// decision id is already stored is a no-op.
	AppendOutcome(ctx context.Context, o outcome.Outcome) error

	// AppendEvent records a coordination event.
	AppendEvent(ctx context.Context, e coordination.Event) error

	// LoadRecentOutcomes returns up to limit of the newest outcomes for key,
	// oldest first.
	LoadRecentOutcomes(ctx context.Context, key outcome.Key, limit int) ([]outcome.Outcome, error)

	// ListEvents returns up to limit of the newest coordination events, newest first.
	ListEvents(ctx context.Context, limit int) ([]coordination.Event, error)

	// SaveSnapshot persists an emergency forensic snapshot.
	SaveSnapshot(ctx context.Context, s emergency.Snapshot) error

	// LatestSnapshot returns the newest snapshot or domain.ErrNotFound.
	LatestSnapshot(ctx context.Context) (emergency.Snapshot, error)
}
