// Package threshold defines confidence thresholds per (capability, level) and
// the adjustment rule driven by recent decision outcomes.
package threshold

import (
	"math"
	"time"

	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
)

// Bounds every threshold is clamped to.
const (
	Floor   = 0.5
	Ceiling = 0.99
)

// Process-wide defaults per decision level.
const (
	DefaultAutonomous = 0.85
	DefaultAdvisory   = 0.60
	DefaultEmergency  = 0.95
)

// precision is the rounding grid for threshold values.
const precision = 1e4

// Policy configures when and how thresholds adapt.
type Policy struct {
	Floor         float64
	Ceiling       float64
	WindowSize    int           // outcomes retained per key
	RecentSize    int           // outcomes the success rate is computed over
	MinNewSamples int           // new outcomes required since the last adjustment
	Cooldown      time.Duration // minimum time between adjustments of one key
	LowerStep     float64       // applied when success rate > HighWater
	RaiseStep     float64       // applied when success rate < LowWater
	HighWater     float64
	LowWater      float64
}

// DefaultPolicy returns the standard adjustment policy.
func DefaultPolicy() Policy {
	return Policy{
		Floor:         Floor,
		Ceiling:       Ceiling,
		WindowSize:    outcome.DefaultWindowSize,
		RecentSize:    20,
		MinNewSamples: 10,
		Cooldown:      time.Hour,
		LowerStep:     0.01,
		RaiseStep:     0.02,
		HighWater:     0.95,
		LowWater:      0.70,
	}
}

// Defaults returns the process-wide default threshold for each level.
func Defaults() map[action.Level]float64 {
	return map[action.Level]float64{
		action.LevelAutonomous: DefaultAutonomous,
		action.LevelAdvisory:   DefaultAdvisory,
		action.LevelEmergency:  DefaultEmergency,
	}
}

// Clamp bounds v to [floor, ceiling] and rounds it to the threshold grid.
func (p Policy) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return p.Floor
	}
	return Round(math.Min(p.Ceiling, math.Max(p.Floor, v)))
}

// Round rounds v to four decimal places so repeated steps stay exact.
func Round(v float64) float64 {
	return math.Round(v*precision) / precision
}

// Eligible reports whether a key may be adjusted now.
// A zero lastAdjusted means the key has never been adjusted and no cooldown applies.
func (p Policy) Eligible(newSamples, windowLen int, lastAdjusted, now time.Time) bool {
	if newSamples < p.MinNewSamples || windowLen < p.RecentSize {
		return false
	}
	return lastAdjusted.IsZero() || now.Sub(lastAdjusted) >= p.Cooldown
}

// Adjust computes the next threshold from the most recent outcomes.
// It returns the new value and whether it differs from current.
func (p Policy) Adjust(current float64, recent []outcome.Outcome) (float64, bool) {
	if len(recent) == 0 {
		return current, false
	}
	if len(recent) > p.RecentSize {
		recent = recent[len(recent)-p.RecentSize:]
	}
	rate, _ := outcome.Summarize(recent)

	next := current
	switch {
	case rate > p.HighWater:
		next = p.Clamp(current - p.LowerStep)
	case rate < p.LowWater:
		next = p.Clamp(current + p.RaiseStep)
	}
	return next, next != current
}
