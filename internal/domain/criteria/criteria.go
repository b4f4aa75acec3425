// Package criteria defines weighted decision criteria and the multi-criteria
// scoring used to rank mutually exclusive candidate actions.
package criteria

import (
	"math"

	"github.com/Strob0t/decisiongate/internal/domain"
)

// WeightTolerance is the accepted deviation of a set's weight sum from 1.0.
const WeightTolerance = 1e-2

// Polarity tells whether a higher raw score is better (benefit) or worse (cost).
type Polarity string

const (
	Benefit Polarity = "benefit"
	Cost    Polarity = "cost"
)

// Well-known criterion names used by the risk classifier.
const (
	SecurityRisk    = "security_risk"
	FinancialImpact = "financial_impact"
)

// Criterion is a single weighted dimension of a decision.
type Criterion struct {
	Name     string   `json:"name" yaml:"name"`
	Weight   float64  `json:"weight" yaml:"weight"`
	Polarity Polarity `json:"polarity" yaml:"polarity"`
}

// Set is a named collection of criteria whose weights sum to 1.0.
type Set struct {
	Name     string      `json:"name" yaml:"name"`
	Criteria []Criterion `json:"criteria" yaml:"criteria"`
}

// Validate checks names, weight ranges, duplicates and the weight sum.
func (s *Set) Validate() error {
	if len(s.Criteria) == 0 {
		return domain.NewValidationError("criteria", "set %q has no criteria", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Criteria))
	var sum float64
	for _, c := range s.Criteria {
		if c.Name == "" {
			return domain.NewValidationError("criteria.name", "is required")
		}
		if _, dup := seen[c.Name]; dup {
			return domain.NewValidationError("criteria."+c.Name, "duplicate criterion")
		}
		seen[c.Name] = struct{}{}
		if c.Weight < 0 || c.Weight > 1 || math.IsNaN(c.Weight) {
			return domain.NewValidationError("criteria."+c.Name, "weight %g must be in [0,1]", c.Weight)
		}
		switch c.Polarity {
		case Benefit, Cost:
		default:
			return domain.NewValidationError("criteria."+c.Name, "unknown polarity %q", c.Polarity)
		}
		sum += c.Weight
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return domain.NewValidationError("weights", "sum to %.4f, want 1.0 ± %g", sum, WeightTolerance)
	}
	return nil
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	out := Set{Name: s.Name, Criteria: make([]Criterion, len(s.Criteria))}
	copy(out.Criteria, s.Criteria)
	return out
}

// WithWeights returns a copy of s with the given weights applied.
// Unknown criterion names are rejected; criteria not named keep their weight.
func (s Set) WithWeights(weights map[string]float64) (Set, error) {
	out := s.Clone()
	index := make(map[string]int, len(out.Criteria))
	for i, c := range out.Criteria {
		index[c.Name] = i
	}
	for name, w := range weights {
		i, ok := index[name]
		if !ok {
			return Set{}, domain.NewValidationError("criteria."+name, "unknown criterion in set %q", s.Name)
		}
		out.Criteria[i].Weight = w
	}
	if err := out.Validate(); err != nil {
		return Set{}, err
	}
	return out, nil
}

// Default returns the global criteria set.
func Default() Set {
	return Set{
		Name: "default",
		Criteria: []Criterion{
			{Name: "impact", Weight: 0.30, Polarity: Benefit},
			{Name: "feasibility", Weight: 0.20, Polarity: Benefit},
			{Name: "alignment", Weight: 0.20, Polarity: Benefit},
			{Name: SecurityRisk, Weight: 0.15, Polarity: Cost},
			{Name: FinancialImpact, Weight: 0.15, Polarity: Benefit},
		},
	}
}

// Presets returns the per-capability overrides shipped with the engine.
func Presets() map[string]Set {
	return map[string]Set{
		"treasury": {
			Name: "treasury",
			Criteria: []Criterion{
				{Name: FinancialImpact, Weight: 0.35, Polarity: Benefit},
				{Name: SecurityRisk, Weight: 0.25, Polarity: Cost},
				{Name: "impact", Weight: 0.15, Polarity: Benefit},
				{Name: "feasibility", Weight: 0.15, Polarity: Benefit},
				{Name: "alignment", Weight: 0.10, Polarity: Benefit},
			},
		},
		"security": {
			Name: "security",
			Criteria: []Criterion{
				{Name: SecurityRisk, Weight: 0.40, Polarity: Cost},
				{Name: "impact", Weight: 0.25, Polarity: Benefit},
				{Name: "feasibility", Weight: 0.20, Polarity: Benefit},
				{Name: "alignment", Weight: 0.15, Polarity: Benefit},
			},
		},
	}
}
