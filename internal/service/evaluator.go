package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/decisiongate/internal/adapter/otel"
	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/criteria"
	"github.com/Strob0t/decisiongate/internal/port/broadcast"
)

// EvaluatorService scores candidate batches against the criteria set of
// their capability.
type EvaluatorService struct {
	registry *criteria.Registry
	hub      broadcast.Broadcaster
	metrics  *cfotel.Metrics
}

// NewEvaluatorService creates an evaluator over registry. A nil registry
// uses the default sets.
func NewEvaluatorService(registry *criteria.Registry, hub broadcast.Broadcaster) *EvaluatorService {
	if registry == nil {
		registry = criteria.NewDefaultRegistry()
	}
	return &EvaluatorService{registry: registry, hub: orNop(hub)}
}

// SetMetrics sets the metric instruments.
func (s *EvaluatorService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Evaluate scores a batch of mutually exclusive candidates and returns the
// options best first. The batch is scored against the set of its first
// candidate's capability. Candidates are never mutated.
func (s *EvaluatorService) Evaluate(ctx context.Context, candidates []action.Candidate) ([]criteria.Option, error) {
	if len(candidates) == 0 {
		return nil, domain.NewValidationError("candidates", "batch is empty")
	}
	for i := range candidates {
		if err := candidates[i].Validate(); err != nil {
			return nil, err
		}
	}

	_, span := cfotel.StartEvaluateSpan(ctx, len(candidates))
	defer span.End()

	capability := candidates[0].Capability
	set := s.registry.For(capability)
	opts := criteria.Evaluate(candidates, set)

	if s.metrics != nil {
		s.metrics.CandidatesEvaluated.Add(ctx, int64(len(candidates)), metric.WithAttributes(
			attribute.String("capability", string(capability)),
			attribute.String("criteria_set", set.Name),
		))
	}
	slog.Debug("candidates evaluated",
		"capability", capability,
		"criteria_set", set.Name,
		"count", len(candidates),
		"best", opts[0].CandidateID,
		"best_score", opts[0].Score,
	)
	return opts, nil
}

// UpdateWeights replaces the weights of the set for capability (criteria.Global
// for the global set). Invalid weights return a ValidationError and leave the
// current set in effect.
func (s *EvaluatorService) UpdateWeights(ctx context.Context, capability string, weights map[string]float64) (criteria.Set, error) {
	set, err := s.registry.UpdateWeights(capability, weights)
	if err != nil {
		slog.Warn("criteria weight update rejected", "capability", capability, "error", err)
		return criteria.Set{}, err
	}
	slog.Info("criteria weights updated", "capability", capability, "set", set.Name)
	s.hub.BroadcastEvent(ctx, broadcast.EventCriteriaUpdated, criteria.KeyedSet{Capability: capability, Set: set})
	return set, nil
}

// Sets returns a snapshot of all criteria sets.
func (s *EvaluatorService) Sets() []criteria.KeyedSet {
	return s.registry.Sets()
}
