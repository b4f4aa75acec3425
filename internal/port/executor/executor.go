// Package executor defines the port for performing the real-world side effect
// of an action.
package executor

import (
	"context"

	"github.com/Strob0t/decisiongate/internal/domain/action"
)

// ActionExecutor performs an action. Implementations must honor ctx
// cancellation; the engine enforces its own timeout regardless.
type ActionExecutor interface {
	Execute(ctx context.Context, a action.Action) (action.Result, error)
}

// Func adapts a function to ActionExecutor.
type Func func(ctx context.Context, a action.Action) (action.Result, error)

// Execute implements ActionExecutor.
func (f Func) Execute(ctx context.Context, a action.Action) (action.Result, error) {
	return f(ctx, a)
}
