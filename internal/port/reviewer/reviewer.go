// Package reviewer defines the hand-off port for advisory actions that need
// human sign-off.
package reviewer

import (
	"context"

	"github.com/Strob0t/decisiongate/internal/domain/action"
)

// Reviewer receives actions moved to AWAITING_REVIEW. Resolution happens
// outside the engine.
type Reviewer interface {
	Submit(ctx context.Context, a action.Action) error
}
