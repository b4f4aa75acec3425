// Package outcome defines decision outcomes and the bounded rolling window
// the threshold manager adapts from.
package outcome

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/decisiongate/internal/domain/action"
)

// Outcome is the recorded result of one executed decision. Immutable once recorded.
type Outcome struct {
	DecisionID string            `json:"decision_id"`
	Capability action.Capability `json:"capability"`
	Level      action.Level      `json:"level"`
	Confidence float64           `json:"confidence"`
	Success    bool              `json:"success"`
	Timestamp  time.Time         `json:"timestamp"`
	Context    map[string]any    `json:"context,omitempty"`
}

// Key returns the threshold key this outcome feeds.
func (o *Outcome) Key() Key {
	return Key{Capability: o.Capability, Level: o.Level}
}

// Key identifies a threshold: one per (capability, decision level).
type Key struct {
	Capability action.Capability `json:"capability"`
	Level      action.Level      `json:"level"`
}

// String renders the key as "capability/LEVEL".
func (k Key) String() string {
	return string(k.Capability) + "/" + string(k.Level)
}

// ParseKey parses a "capability/LEVEL" string.
func ParseKey(s string) (Key, error) {
	capability, level, ok := strings.Cut(s, "/")
	if !ok || capability == "" {
		return Key{}, fmt.Errorf("invalid outcome key %q", s)
	}
	l := action.Level(level)
	if !l.Valid() {
		return Key{}, fmt.Errorf("invalid decision level in key %q", s)
	}
	return Key{Capability: action.Capability(capability), Level: l}, nil
}

// Summary is a per-key performance snapshot for observability.
type Summary struct {
	Key           string    `json:"key"`
	Capability    string    `json:"capability"`
	Level         string    `json:"level"`
	SuccessRate   float64   `json:"success_rate"`
	AvgConfidence float64   `json:"avg_confidence"`
	Samples       int       `json:"samples"`
	Threshold     float64   `json:"threshold"`
	LastAdjusted  time.Time `json:"last_adjusted,omitzero"`
}

// Summarize computes the success rate and average confidence of outcomes.
func Summarize(outcomes []Outcome) (successRate, avgConfidence float64) {
	if len(outcomes) == 0 {
		return 0, 0
	}
	var ok int
	var conf float64
	for i := range outcomes {
		if outcomes[i].Success {
			ok++
		}
		conf += outcomes[i].Confidence
	}
	n := float64(len(outcomes))
	return float64(ok) / n, conf / n
}
