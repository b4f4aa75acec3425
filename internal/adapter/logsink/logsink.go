// Package logsink provides log-backed executor, notifier and reviewer
// implementations. They are the defaults when no external endpoint is
// configured and let the engine run end to end in development.
package logsink

import (
	"context"
	"log/slog"

	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/port/executor"
	"github.com/Strob0t/decisiongate/internal/port/notifier"
)

const name = "log"

// Executor logs each action and reports success.
type Executor struct{}

// Execute implements executor.ActionExecutor.
func (Executor) Execute(ctx context.Context, a action.Action) (action.Result, error) {
	if err := ctx.Err(); err != nil {
		return action.Result{}, err
	}
	slog.InfoContext(ctx, "action performed",
		"action_id", a.ID,
		"capability", a.Capability,
		"level", a.Level,
		"confidence", a.Confidence,
		"attempt", a.Attempts,
	)
	return action.Result{Success: true, Details: map[string]any{"sink": name}}, nil
}

// Notifier logs escalations at a level matching their severity.
type Notifier struct{}

// Name implements notifier.Notifier.
func (Notifier) Name() string { return name }

// Send implements notifier.Notifier.
func (Notifier) Send(ctx context.Context, n notifier.Notification) error {
	level := slog.LevelInfo
	switch n.Severity {
	case notifier.SeverityCritical:
		level = slog.LevelError
	case notifier.SeverityWarning:
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, n.Title, "body", n.Body, "source", n.Source)
	return nil
}

// Reviewer logs advisory hand-offs.
type Reviewer struct{}

// Submit implements reviewer.Reviewer.
func (Reviewer) Submit(ctx context.Context, a action.Action) error {
	slog.InfoContext(ctx, "action awaiting review",
		"action_id", a.ID,
		"capability", a.Capability,
		"confidence", a.Confidence,
		"recommendation", a.Recommendation,
	)
	return nil
}

func init() {
	executor.Register(name, func(map[string]string) (executor.ActionExecutor, error) {
		return Executor{}, nil
	})
	notifier.Register(name, func(map[string]string) (notifier.Notifier, error) {
		return Notifier{}, nil
	})
}

// Subsystem is a log-backed coordination target. Every operation succeeds
// and echoes the operation name so later steps can see which ran.
type Subsystem struct {
	SubsystemName string
}

// Name implements subsystem.Subsystem.
func (s Subsystem) Name() string { return s.SubsystemName }

// Invoke implements subsystem.Subsystem.
func (s Subsystem) Invoke(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "subsystem operation", "subsystem", s.SubsystemName, "operation", operation, "inputs", len(payload))
	return map[string]any{s.SubsystemName + "." + operation: "ok"}, nil
}
