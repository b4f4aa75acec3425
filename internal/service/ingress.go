package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/emergency"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
)

// Ingress feeds queue messages into an engine: candidate batches, coordination
// triggers and health signals. Returning an error from a handler asks the
// queue to redeliver, so only transient failures are returned.
type Ingress struct {
	engine *Engine
	queue  messagequeue.Queue
}

// NewIngress creates an ingress for engine on q.
func NewIngress(engine *Engine, q messagequeue.Queue) *Ingress {
	return &Ingress{engine: engine, queue: q}
}

// Start subscribes all inbound subjects. The returned function cancels the
// subscriptions.
func (in *Ingress) Start(ctx context.Context) (func(), error) {
	handlers := map[string]messagequeue.Handler{
		messagequeue.SubjectCandidates:      in.handleCandidates,
		messagequeue.SubjectCoordinationRun: in.handleTrigger,
		messagequeue.SubjectHealthSignals:   in.handleSignal,
	}
	var cancels []func()
	stop := func() {
		for _, c := range cancels {
			c()
		}
	}
	for _, subject := range []string{
		messagequeue.SubjectCandidates,
		messagequeue.SubjectCoordinationRun,
		messagequeue.SubjectHealthSignals,
	} {
		cancel, err := in.queue.Subscribe(ctx, subject, handlers[subject])
		if err != nil {
			stop()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		cancels = append(cancels, cancel)
	}
	slog.Info("ingress subscribed", "subjects", 3)
	return stop, nil
}

func (in *Ingress) handleCandidates(ctx context.Context, _ string, data []byte) error {
	var batch messagequeue.CandidateBatchPayload
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("unmarshal candidate batch: %w", err)
	}
	now := time.Now()
	candidates := make([]action.Candidate, 0, len(batch.Candidates))
	for _, c := range batch.Candidates {
		candidates = append(candidates, action.Candidate{
			ID:          c.ID,
			Capability:  action.Capability(c.Capability),
			Urgency:     action.Urgency(c.Urgency),
			Scores:      c.Scores,
			Payload:     c.Payload,
			SubmittedAt: now,
		})
	}

	sub, err := in.engine.Submit(ctx, candidates)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "candidate batch accepted",
			"batch_id", batch.BatchID,
			"action_id", sub.Action.ID,
			"level", sub.Action.Level,
		)
		return nil
	case errors.Is(err, domain.ErrCapacityExceeded):
		return err
	default:
		slog.WarnContext(ctx, "candidate batch rejected", "batch_id", batch.BatchID, "error", err)
		return nil
	}
}

func (in *Ingress) handleTrigger(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.CoordinationTriggerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal coordination trigger: %w", err)
	}
	in.engine.Coordination.RunCoordination(ctx, p.Trigger, p.Payload)
	return nil
}

func (in *Ingress) handleSignal(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.HealthSignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal health signal: %w", err)
	}
	in.engine.Emergency.Signal(ctx, emergency.Signal{
		Subsystem: p.Subsystem,
		Critical:  p.Critical,
		Status:    p.Status,
		Detail:    p.Detail,
		At:        time.Now(),
	})
	return nil
}
