// Package scheduler defines the periodic trigger port consumed by the
// coordination orchestrator.
package scheduler

import (
	"context"

	"github.com/Strob0t/decisiongate/internal/domain/schedule"
)

// Scheduler runs callbacks on a cadence until its Run context is cancelled.
type Scheduler interface {
	RegisterPeriodic(name string, spec schedule.Spec, fn func(ctx context.Context)) error
}
