// Package subsystem defines the typed integration point for coordination
// step targets.
package subsystem

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Subsystem is an integration that coordination steps invoke by operation name.
type Subsystem interface {
	Name() string
	Invoke(ctx context.Context, operation string, payload map[string]any) (map[string]any, error)
}

// Registry resolves subsystems by name. It is owned by one engine instance.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]Subsystem
}

// NewRegistry creates a registry populated with subs.
func NewRegistry(subs ...Subsystem) *Registry {
	r := &Registry{subs: make(map[string]Subsystem, len(subs))}
	for _, s := range subs {
		r.subs[s.Name()] = s
	}
	return r
}

// Register adds or replaces a subsystem.
func (r *Registry) Register(s Subsystem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.Name()] = s
}

// Get returns the subsystem with the given name.
func (r *Registry) Get(name string) (Subsystem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[name]
	return s, ok
}

// Names returns the registered subsystem names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for n := range r.subs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ErrUnknownOperation is returned by Ops for operations it does not handle.
type ErrUnknownOperation struct {
	Subsystem string
	Operation string
}

func (e *ErrUnknownOperation) Error() string {
	return fmt.Sprintf("subsystem %s: unknown operation %q", e.Subsystem, e.Operation)
}

// Op is a single subsystem operation.
type Op func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Ops is a Subsystem built from a table of named operations.
type Ops struct {
	SubsystemName string
	Operations    map[string]Op
}

// Name implements Subsystem.
func (o *Ops) Name() string { return o.SubsystemName }

// Invoke implements Subsystem.
func (o *Ops) Invoke(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	op, ok := o.Operations[operation]
	if !ok {
		return nil, &ErrUnknownOperation{Subsystem: o.SubsystemName, Operation: operation}
	}
	return op(ctx, payload)
}
