package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/criteria"
	"github.com/Strob0t/decisiongate/internal/port/broadcast"
)

func TestEvaluator_RanksBestFirst(t *testing.T) {
	s := NewEvaluatorService(nil, nil)
	batch := []action.Candidate{
		{ID: "weak", Capability: action.CapabilityGovernance, Scores: map[string]float64{"impact": 0.2, "feasibility": 0.2, "alignment": 0.2}},
		{ID: "strong", Capability: action.CapabilityGovernance, Scores: map[string]float64{"impact": 0.9, "feasibility": 0.9, "alignment": 0.9, "security_risk": 0.1, "financial_impact": 0.5}},
	}

	opts, err := s.Evaluate(context.Background(), batch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(opts) != 2 || opts[0].CandidateID != "strong" {
		t.Fatalf("expected strong first, got %+v", opts)
	}
	if opts[0].Confidence > criteria.MaxConfidence {
		t.Fatalf("confidence %v above cap", opts[0].Confidence)
	}
}

func TestEvaluator_MissingScoresNeutral(t *testing.T) {
	s := NewEvaluatorService(nil, nil)
	batch := []action.Candidate{{ID: "blank", Capability: action.CapabilityCommunity}}

	opts, err := s.Evaluate(context.Background(), batch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(opts[0].Score-0.5) > 1e-9 {
		t.Fatalf("expected neutral score 0.5, got %v", opts[0].Score)
	}
	if opts[0].Recommendation != criteria.Neutral {
		t.Fatalf("expected Neutral, got %s", opts[0].Recommendation)
	}
	if batch[0].Scores != nil {
		t.Fatal("candidate must not be mutated")
	}
}

func TestEvaluator_RejectsInvalidBatch(t *testing.T) {
	s := NewEvaluatorService(nil, nil)

	if _, err := s.Evaluate(context.Background(), nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty batch, got %v", err)
	}
	bad := []action.Candidate{{ID: "x", Capability: "governance", Scores: map[string]float64{"impact": 1.2}}}
	if _, err := s.Evaluate(context.Background(), bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for out-of-range score, got %v", err)
	}
}

func TestEvaluator_UpdateWeights(t *testing.T) {
	hub := &recordingHub{}
	s := NewEvaluatorService(nil, hub)
	ctx := context.Background()

	_, err := s.UpdateWeights(ctx, "governance", map[string]float64{"impact": 0.9})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for weights summing past 1, got %v", err)
	}
	if got := len(hub.ofType(broadcast.EventCriteriaUpdated)); got != 0 {
		t.Fatalf("rejected update must not broadcast, got %d", got)
	}

	set, err := s.UpdateWeights(ctx, "governance", map[string]float64{"impact": 0.4, "alignment": 0.1})
	if err != nil {
		t.Fatalf("UpdateWeights: %v", err)
	}
	if set.Name != "governance" {
		t.Fatalf("expected derived governance set, got %q", set.Name)
	}
	if got := len(hub.ofType(broadcast.EventCriteriaUpdated)); got != 1 {
		t.Fatalf("expected 1 broadcast, got %d", got)
	}

	var found bool
	for _, ks := range s.Sets() {
		if ks.Capability == "governance" {
			found = true
		}
		if ks.Capability == criteria.Global && ks.Set.Criteria[0].Weight != 0.30 {
			t.Fatal("global set must be unchanged")
		}
	}
	if !found {
		t.Fatal("expected governance set in snapshot")
	}
}
