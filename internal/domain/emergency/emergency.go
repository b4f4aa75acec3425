// Package emergency defines the state of the emergency circuit breaker that
// pauses autonomous work after repeated critical health signals.
package emergency

import (
	"time"

	"github.com/Strob0t/decisiongate/internal/domain/outcome"
)

// Phase is the lifecycle phase of the emergency protocol.
type Phase string

const (
	PhaseMonitoring Phase = "monitoring" // normal operation
	PhasePaused     Phase = "paused"     // tripped, waiting for cooldown/backoff
	PhaseStopped    Phase = "stopped"    // recovery exhausted, operator reset required
)

// Signal is a health observation fed to the monitor.
type Signal struct {
	Subsystem string    `json:"subsystem"`
	Critical  bool      `json:"critical"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// State is a snapshot of the emergency protocol.
type State struct {
	Paused              bool          `json:"paused"`
	Phase               Phase         `json:"phase"`
	ConsecutiveCritical int           `json:"consecutive_critical"`
	RecoveryAttempts    int           `json:"recovery_attempts"`
	CooldownUntil       time.Time     `json:"cooldown_until,omitzero"`
	NextWait            time.Duration `json:"next_wait"`
	TrippedAt           time.Time     `json:"tripped_at,omitzero"`
	Reason              string        `json:"reason,omitempty"`
	TrippedBy           []string      `json:"tripped_by,omitempty"` // subsystems whose critical signals tripped the breaker
	LastSignal          *Signal       `json:"last_signal,omitempty"`
}

// NextBackoff doubles the previous wait, capped at maxWait.
func NextBackoff(prev, maxWait time.Duration) time.Duration {
	if prev <= 0 {
		return maxWait
	}
	next := prev * 2
	if next > maxWait || next < prev {
		return maxWait
	}
	return next
}

// Snapshot is the forensic record persisted when the breaker trips.
type Snapshot struct {
	ID               string            `json:"id"`
	TakenAt          time.Time         `json:"taken_at"`
	Reason           string            `json:"reason"`
	State            State             `json:"state"`
	PendingCancelled []string          `json:"pending_cancelled"`
	Thresholds       []outcome.Summary `json:"thresholds"`
	Health           map[string]string `json:"health,omitempty"`
}
