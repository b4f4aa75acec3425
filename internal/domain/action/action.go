// Package action defines candidate actions submitted by agents and the
// AutonomousAction entity tracked by the executor lanes.
package action

import "time"

// Capability is a named category of action.
type Capability string

const (
	CapabilityGovernance  Capability = "governance"
	CapabilityTreasury    Capability = "treasury"
	CapabilityCommunity   Capability = "community"
	CapabilitySecurity    Capability = "security"
	CapabilityAnalytics   Capability = "analytics"
	CapabilityDevelopment Capability = "development"
)

// Critical reports whether failed executions of this capability must not be retried.
func (c Capability) Critical() bool {
	return c == CapabilitySecurity || c == CapabilityTreasury
}

// Urgency is the urgency declared by the submitting agent.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// Level is the autonomy tier assigned to an action at enqueue time.
type Level string

const (
	LevelAutonomous Level = "AUTONOMOUS"
	LevelAdvisory   Level = "ADVISORY"
	LevelEmergency  Level = "EMERGENCY"
)

// Levels lists all decision levels in lane priority order.
var Levels = []Level{LevelEmergency, LevelAutonomous, LevelAdvisory}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelAutonomous, LevelAdvisory, LevelEmergency:
		return true
	}
	return false
}

// Status represents the lifecycle state of an action.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusExecuting      Status = "EXECUTING"
	StatusExecuted       Status = "EXECUTED"
	StatusFailed         Status = "FAILED"
	StatusAwaitingReview Status = "AWAITING_REVIEW"
)

// IsTerminal returns true if no further transition happens inside the engine.
// AWAITING_REVIEW is resolved by an external reviewer.
func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusFailed || s == StatusAwaitingReview
}

// Failure reasons recorded on FAILED actions.
const (
	ReasonTimeout             = "timeout"
	ReasonResourceConstrained = "resource_constrained"
	ReasonCancelled           = "cancelled"
	ReasonExecutorError       = "executor_error"
	ReasonRejected            = "rejected"
	ReasonEmergencyHalt       = "emergency_halt"
)

// Candidate is a proposed action with raw criterion scores in [0,1].
// Candidates are never mutated after submission.
type Candidate struct {
	ID          string             `json:"id"`
	Capability  Capability         `json:"capability"`
	Urgency     Urgency            `json:"urgency"`
	Scores      map[string]float64 `json:"scores"`
	Payload     map[string]any     `json:"payload,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// Action is an evaluated candidate that has been assigned a decision level
// and placed in an executor lane.
type Action struct {
	ID             string         `json:"id"`
	CandidateID    string         `json:"candidate_id"`
	Capability     Capability     `json:"capability"`
	Level          Level          `json:"level"`
	Urgency        Urgency        `json:"urgency"`
	Confidence     float64        `json:"confidence"`
	Score          float64        `json:"score"`
	Risk           string         `json:"risk"`
	Recommendation string         `json:"recommendation"`
	Status         Status         `json:"status"`
	Reason         string         `json:"reason,omitempty"`
	Attempts       int            `json:"attempts"`
	Details        map[string]any `json:"details,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	ExecutedAt     *time.Time     `json:"executed_at,omitempty"`
}

// Result is returned by an action executor.
type Result struct {
	Success bool           `json:"success"`
	Details map[string]any `json:"details,omitempty"`
}

// Filter narrows action listings.
type Filter struct {
	Status     Status     `json:"status,omitempty"`
	Level      Level      `json:"level,omitempty"`
	Capability Capability `json:"capability,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// Match reports whether a satisfies the filter.
func (f Filter) Match(a *Action) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Level != "" && a.Level != f.Level {
		return false
	}
	if f.Capability != "" && a.Capability != f.Capability {
		return false
	}
	return true
}
