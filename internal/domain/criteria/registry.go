package criteria

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/decisiongate/internal/domain/action"
)

// Global is the registry key for the set used by capabilities without an override.
const Global = ""

// Registry holds the global criteria set and per-capability overrides.
// Reads are lock-free against an immutable published map; updates validate a
// copy and swap it in, so an invalid update never takes effect.
type Registry struct {
	mu   sync.Mutex // serializes writers
	sets atomic.Pointer[map[string]Set]
}

// NewRegistry returns a registry seeded with the given global set and overrides.
func NewRegistry(global Set, overrides map[string]Set) (*Registry, error) {
	m := make(map[string]Set, len(overrides)+1)
	if err := global.Validate(); err != nil {
		return nil, err
	}
	m[Global] = global.Clone()
	for capability, s := range overrides {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		m[capability] = s.Clone()
	}
	r := &Registry{}
	r.sets.Store(&m)
	return r, nil
}

// NewDefaultRegistry returns a registry with the default global set and presets.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(Default(), Presets())
	if err != nil {
		panic("criteria: invalid presets: " + err.Error())
	}
	return r
}

// For returns the set in effect for the capability.
func (r *Registry) For(capability action.Capability) Set {
	m := *r.sets.Load()
	if s, ok := m[string(capability)]; ok {
		return s
	}
	return m[Global]
}

// UpdateWeights applies new weights to the set keyed by capability (Global for
// the default set). A capability without its own set gets one derived from the
// global set.
func (r *Registry) UpdateWeights(capability string, weights map[string]float64) (Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.sets.Load()
	base, ok := cur[capability]
	if !ok {
		base = cur[Global].Clone()
		base.Name = capability
	}
	next, err := base.WithWeights(weights)
	if err != nil {
		return Set{}, err
	}

	m := make(map[string]Set, len(cur)+1)
	for k, v := range cur {
		m[k] = v
	}
	m[capability] = next
	r.sets.Store(&m)
	return next, nil
}

// Replace installs a complete set for the capability after validating it.
func (r *Registry) Replace(capability string, s Set) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.sets.Load()
	m := make(map[string]Set, len(cur)+1)
	for k, v := range cur {
		m[k] = v
	}
	m[capability] = s.Clone()
	r.sets.Store(&m)
	return nil
}

// Sets returns all sets keyed by capability, in key order.
func (r *Registry) Sets() []KeyedSet {
	m := *r.sets.Load()
	out := make([]KeyedSet, 0, len(m))
	for k, v := range m {
		out = append(out, KeyedSet{Capability: k, Set: v.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}

// KeyedSet pairs a set with its registry key.
type KeyedSet struct {
	Capability string `json:"capability"`
	Set        Set    `json:"set"`
}
