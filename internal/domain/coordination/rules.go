package coordination

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Presets returns the built-in coordination rules keyed by trigger.
func Presets() map[string]Rule {
	rules := []Rule{
		{
			Trigger:     "new_proposal",
			Description: "Analyze a new governance proposal, check its impact and treasury capacity, then execute.",
			Steps: []Step{
				{Target: "governance", Operation: "analyze"},
				{Target: "analytics", Operation: "check_impact"},
				{Target: "treasury", Operation: "assess_capacity"},
				{Target: "governance", Operation: "execute"},
			},
			Fallback: FallbackHumanReview,
		},
		{
			Trigger:     "treasury_rebalance",
			Description: "Forecast runway and rebalance treasury holdings.",
			Steps: []Step{
				{Target: "analytics", Operation: "forecast"},
				{Target: "treasury", Operation: "rebalance"},
			},
			Fallback: FallbackManualIntervention,
		},
		{
			Trigger:     "security_incident",
			Description: "Scan and contain a reported security incident.",
			Steps: []Step{
				{Target: "security", Operation: "scan"},
				{Target: "security", Operation: "contain"},
			},
			Fallback: FallbackCircuitBreaker,
		},
		{
			Trigger:     "community_digest",
			Description: "Collect community activity and publish a summary.",
			Steps: []Step{
				{Target: "community", Operation: "collect"},
				{Target: "analytics", Operation: "summarize"},
			},
			Fallback: FallbackHumanReview,
			Cadence:  "daily",
		},
		{
			Trigger:     "health_sweep",
			Description: "Collect a health report across subsystems.",
			Steps: []Step{
				{Target: "analytics", Operation: "health_report"},
			},
			Fallback: FallbackCircuitBreaker,
			Cadence:  "hourly",
		},
		{
			Trigger:     "weekly_review",
			Description: "Review decision outcomes and trends for the week.",
			Steps: []Step{
				{Target: "governance", Operation: "review_outcomes"},
				{Target: "analytics", Operation: "trend"},
			},
			Fallback: FallbackHumanReview,
			Cadence:  "weekly",
		},
	}
	out := make(map[string]Rule, len(rules))
	for _, r := range rules {
		out[r.Trigger] = r
	}
	return out
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads rules from a YAML file and merges them over the presets.
// A rule with the same trigger as a preset replaces it. A missing file yields the presets.
func LoadRules(path string) (map[string]Rule, error) {
	rules := Presets()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied rules file
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rules, nil
		}
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	for i := range f.Rules {
		if err := f.Rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("rules %s: %w", path, err)
		}
		rules[f.Rules[i].Trigger] = f.Rules[i]
	}
	return rules, nil
}

// Sorted returns rules ordered by trigger.
func Sorted(rules map[string]Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trigger < out[j].Trigger })
	return out
}
