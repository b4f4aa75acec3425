// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries the correlation ID of the message when one was sent.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by decisiongate.
const (
	SubjectCandidates         = "decisions.candidates" // inbound: candidate batches from agents
	SubjectOutcomes           = "decisions.outcomes"   // outbound: recorded decision outcomes
	SubjectActions            = "decisions.actions"    // outbound: action status transitions
	SubjectCoordinationEvents = "coordination.events"  // outbound: coordination audit events
	SubjectCoordinationRun    = "coordination.trigger" // inbound: request a coordination run
	SubjectEmergencyState     = "emergency.state"      // outbound: emergency protocol transitions
	SubjectHealthSignals      = "health.signals"       // inbound: subsystem health signals
)

// Subjects lists all subjects the JetStream stream must capture.
var Subjects = []string{
	SubjectCandidates,
	SubjectOutcomes,
	SubjectActions,
	SubjectCoordinationEvents,
	SubjectCoordinationRun,
	SubjectEmergencyState,
	SubjectHealthSignals,
}
