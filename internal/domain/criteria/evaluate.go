package criteria

import (
	"sort"

	"github.com/Strob0t/decisiongate/internal/domain/action"
)

// NeutralScore is used for criteria a candidate does not score.
const NeutralScore = 0.5

// MaxConfidence caps the confidence derived from a weighted score.
const MaxConfidence = 0.95

// Risk is the coarse risk label of an evaluated option.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// rank orders risk labels for tie-breaking; lower is safer.
func (r Risk) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	default:
		return 2
	}
}

// Recommendation tiers, by weighted score.
const (
	StronglyRecommended    = "Strongly Recommended"
	Recommended            = "Recommended"
	Neutral                = "Neutral"
	NotRecommended         = "Not Recommended"
	StronglyNotRecommended = "Strongly Not Recommended"
)

// Option is a scored candidate.
type Option struct {
	CandidateID    string             `json:"candidate_id"`
	Capability     action.Capability  `json:"capability"`
	Score          float64            `json:"score"`
	Contributions  map[string]float64 `json:"contributions"`
	Risk           Risk               `json:"risk"`
	Recommendation string             `json:"recommendation"`
	Confidence     float64            `json:"confidence"`
}

// ClassifyRisk derives the risk label from the raw security and financial scores.
func ClassifyRisk(scores map[string]float64) Risk {
	sec := raw(scores, SecurityRisk)
	fin := raw(scores, FinancialImpact)
	switch {
	case sec > 0.8 || fin > 0.9 || fin < 0.1:
		return RiskHigh
	case sec > 0.6 || fin > 0.7 || fin < 0.3:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Recommend maps a weighted score to one of the five recommendation tiers.
func Recommend(score float64) string {
	switch {
	case score >= 0.8:
		return StronglyRecommended
	case score >= 0.6:
		return Recommended
	case score >= 0.4:
		return Neutral
	case score >= 0.2:
		return NotRecommended
	default:
		return StronglyNotRecommended
	}
}

// Confidence derives the confidence of an option from its weighted score.
func Confidence(score float64) float64 {
	return min(MaxConfidence, score+0.1)
}

// Score computes the weighted score of one candidate against set.
// The candidate is never mutated.
func Score(c *action.Candidate, set Set) Option {
	contributions := make(map[string]float64, len(set.Criteria))
	var total float64
	for _, cr := range set.Criteria {
		v := raw(c.Scores, cr.Name)
		if cr.Polarity == Cost {
			v = 1 - v
		}
		contrib := v * cr.Weight
		contributions[cr.Name] = contrib
		total += contrib
	}
	return Option{
		CandidateID:    c.ID,
		Capability:     c.Capability,
		Score:          total,
		Contributions:  contributions,
		Risk:           ClassifyRisk(c.Scores),
		Recommendation: Recommend(total),
		Confidence:     Confidence(total),
	}
}

// Evaluate scores a batch of mutually exclusive candidates and returns the
// options ordered best first: score descending, then lower risk, then id.
func Evaluate(candidates []action.Candidate, set Set) []Option {
	out := make([]Option, 0, len(candidates))
	for i := range candidates {
		out = append(out, Score(&candidates[i], set))
	}
	SortOptions(out)
	return out
}

// SortOptions sorts options in place, best first.
func SortOptions(opts []Option) {
	sort.SliceStable(opts, func(i, j int) bool {
		a, b := opts[i], opts[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Risk.rank() != b.Risk.rank() {
			return a.Risk.rank() < b.Risk.rank()
		}
		return a.CandidateID < b.CandidateID
	})
}

func raw(scores map[string]float64, name string) float64 {
	if v, ok := scores[name]; ok {
		return v
	}
	return NeutralScore
}
