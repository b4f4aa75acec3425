// Package health defines the subsystem health port.
package health

import (
	"context"
	"time"
)

// Status is the coarse health of a subsystem.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// Report is a subsystem health observation.
type Report struct {
	Name      string             `json:"name"`
	Status    Status             `json:"status"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
}

// Healthy reports whether the subsystem may receive work.
func (r Report) Healthy() bool { return r.Status == StatusActive }

// Checker reports the health of a named subsystem.
type Checker interface {
	GetStatus(ctx context.Context, name string) (Report, error)
}

// Static is a Checker backed by a fixed map. Unknown subsystems report inactive.
type Static map[string]Status

// GetStatus implements Checker.
func (s Static) GetStatus(_ context.Context, name string) (Report, error) {
	st, ok := s[name]
	if !ok {
		st = StatusInactive
	}
	return Report{Name: name, Status: st, CheckedAt: time.Now()}, nil
}
