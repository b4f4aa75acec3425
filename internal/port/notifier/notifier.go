// Package notifier defines the notification port (interface) used for
// emergency and health escalation. Routine traffic never goes through it.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Severity grades an escalation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Source   string   `json:"source"` // e.g. "emergency.tripped", "coordination.fallback"
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack", "log").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
