package action

import (
	"fmt"
	"math"

	"github.com/Strob0t/decisiongate/internal/domain"
)

// Validate checks that a Candidate is well-formed.
func (c *Candidate) Validate() error {
	if c.ID == "" {
		return domain.NewValidationError("id", "is required")
	}
	if c.Capability == "" {
		return domain.NewValidationError("capability", "is required")
	}
	switch c.Urgency {
	case "", UrgencyNormal, UrgencyCritical:
	default:
		return domain.NewValidationError("urgency", "unknown urgency %q", c.Urgency)
	}
	for name, v := range c.Scores {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return domain.NewValidationError(fmt.Sprintf("scores.%s", name), "must be in [0,1], got %g", v)
		}
	}
	return nil
}

// EffectiveUrgency returns the declared urgency, defaulting to normal.
func (c *Candidate) EffectiveUrgency() Urgency {
	if c.Urgency == "" {
		return UrgencyNormal
	}
	return c.Urgency
}
