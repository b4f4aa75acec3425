// Package coordination defines cross-subsystem coordination rules, their
// step results and the append-only event audit record.
package coordination

import (
	"time"

	"github.com/Strob0t/decisiongate/internal/domain"
)

// Fallback is the escalation strategy invoked when a rule's step fails.
type Fallback string

const (
	FallbackHumanReview        Fallback = "human_review"
	FallbackManualIntervention Fallback = "manual_intervention"
	FallbackCircuitBreaker     Fallback = "circuit_breaker"
)

// Valid reports whether f is a known strategy.
func (f Fallback) Valid() bool {
	switch f {
	case FallbackHumanReview, FallbackManualIntervention, FallbackCircuitBreaker:
		return true
	}
	return false
}

// Step invokes one operation on one subsystem.
type Step struct {
	Target    string `json:"target" yaml:"target"`
	Operation string `json:"operation" yaml:"operation"`
}

// Rule is an ordered sequence of steps run for a trigger.
type Rule struct {
	Trigger     string   `json:"trigger" yaml:"trigger"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Steps       []Step   `json:"steps" yaml:"steps"`
	Fallback    Fallback `json:"fallback" yaml:"fallback"`
	Cadence     string   `json:"cadence,omitempty" yaml:"cadence"` // optional schedule spec, see domain/schedule
}

// Validate checks that the rule is runnable.
func (r *Rule) Validate() error {
	if r.Trigger == "" {
		return domain.NewValidationError("trigger", "is required")
	}
	if len(r.Steps) == 0 {
		return domain.NewValidationError("steps", "rule %q has no steps", r.Trigger)
	}
	for i, s := range r.Steps {
		if s.Target == "" || s.Operation == "" {
			return domain.NewValidationError("steps", "rule %q step %d needs target and operation", r.Trigger, i+1)
		}
	}
	if !r.Fallback.Valid() {
		return domain.NewValidationError("fallback", "rule %q has unknown fallback %q", r.Trigger, r.Fallback)
	}
	return nil
}

// Step and event statuses.
const (
	StepSuccess = "success"
	StepFailed  = "failed"

	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// StepResult records one attempted step. Steps never attempted have no result.
type StepResult struct {
	Index     int            `json:"index"` // 1-based position in the rule
	Target    string         `json:"target"`
	Operation string         `json:"operation"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// Escalation is the structured result of a fallback strategy.
type Escalation struct {
	Strategy   Fallback  `json:"strategy"`
	Reason     string    `json:"reason"`
	FailedStep int       `json:"failed_step"`
	Severity   string    `json:"severity"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is the audit record of one coordination run. Never mutated after creation.
type Event struct {
	ID        string         `json:"id"`
	Trigger   string         `json:"trigger"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Steps     []StepResult   `json:"steps"`
	Status    string         `json:"status"`
	Fallback  *Escalation    `json:"fallback,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
}
