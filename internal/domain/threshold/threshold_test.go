package threshold

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Strob0t/decisiongate/internal/domain/outcome"
)

func outcomes(n, successes int) []outcome.Outcome {
	out := make([]outcome.Outcome, n)
	for i := range out {
		out[i] = outcome.Outcome{DecisionID: fmt.Sprintf("d%d", i), Success: i < successes, Confidence: 0.9}
	}
	return out
}

func TestAdjust(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name        string
		current     float64
		successes   int
		want        float64
		wantChanged bool
	}{
		{"all success lowers by one step", 0.85, 20, 0.84, true},
		{"half success raises by one step", 0.85, 10, 0.87, true},
		{"rate 0.95 is unchanged", 0.85, 19, 0.85, false},
		{"rate 0.70 is unchanged", 0.85, 14, 0.85, false},
		{"rate 0.65 raises", 0.85, 13, 0.87, true},
		{"never below floor", 0.5, 20, 0.5, false},
		{"lowered to floor", 0.505, 20, 0.5, true},
		{"never above ceiling", 0.98, 0, 0.99, true},
		{"at ceiling stays", 0.99, 0, 0.99, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := p.Adjust(tt.current, outcomes(20, tt.successes))
			if got != tt.want {
				t.Errorf("Adjust(%v) = %v, want %v", tt.current, got, tt.want)
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
		})
	}
}

func TestAdjustUsesMostRecent(t *testing.T) {
	p := DefaultPolicy()
	// 40 outcomes: first 20 all fail, last 20 all succeed.
	window := make([]outcome.Outcome, 0, 40)
	for i := range 40 {
		window = append(window, outcome.Outcome{DecisionID: fmt.Sprintf("d%d", i), Success: i >= 20})
	}
	got, _ := p.Adjust(0.85, window)
	if got != 0.84 {
		t.Errorf("expected adjustment from the most recent 20, got %v", got)
	}
}

func TestRepeatedStepsExact(t *testing.T) {
	p := DefaultPolicy()
	v := 0.85
	for range 5 {
		v, _ = p.Adjust(v, outcomes(20, 20))
	}
	if v != 0.80 {
		t.Errorf("expected exactly 0.80 after five steps, got %v", v)
	}
}

func TestEligible(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		newSamples int
		windowLen  int
		last       time.Time
		want       bool
	}{
		{"never adjusted with enough data", 10, 20, time.Time{}, true},
		{"too few new samples", 9, 20, time.Time{}, false},
		{"window too small", 10, 19, time.Time{}, false},
		{"cooldown not elapsed", 10, 20, now.Add(-59 * time.Minute), false},
		{"cooldown elapsed", 10, 20, now.Add(-time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Eligible(tt.newSamples, tt.windowLen, tt.last, now); got != tt.want {
				t.Errorf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestAdjustStaysInBounds verifies that no sequence of adjustments leaves [floor, ceiling].
func TestAdjustStaysInBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	p := DefaultPolicy()

	properties.Property("thresholds always within [0.5, 0.99]", prop.ForAll(
		func(start float64, rounds []int) bool {
			v := p.Clamp(start)
			for _, successes := range rounds {
				v, _ = p.Adjust(v, outcomes(20, successes))
				if v < Floor || v > Ceiling {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-1, 2),
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
