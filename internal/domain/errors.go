// Package domain provides shared domain-level sentinel and typed errors.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates rejected input. The configuration is never partially applied.
var ErrValidation = errors.New("validation failed")

// ErrSubsystemUnavailable indicates a coordination step target is not active.
var ErrSubsystemUnavailable = errors.New("subsystem unavailable")

// ErrExecutionTimeout indicates the action executor did not answer in time.
var ErrExecutionTimeout = errors.New("execution timeout")

// ErrExecutionFailure indicates the action executor returned an error.
var ErrExecutionFailure = errors.New("execution failure")

// ErrCapacityExceeded indicates a lane is full and eviction could not make room.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrEmergencyEscalation indicates automatic recovery was exhausted.
// Operator action is required to reset the engine.
var ErrEmergencyEscalation = errors.New("emergency escalation")

// ErrInvalidTransition indicates an action or state cannot move to the requested state.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidationError describes a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SubsystemUnavailableError is returned when a step target reports a non-active status.
type SubsystemUnavailableError struct {
	Subsystem string
	Status    string
}

func (e *SubsystemUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s is %s", ErrSubsystemUnavailable, e.Subsystem, e.Status)
}

func (e *SubsystemUnavailableError) Unwrap() error { return ErrSubsystemUnavailable }

// ExecutionTimeoutError is returned when an execution exceeds its capability timeout.
type ExecutionTimeoutError struct {
	ActionID string
	Timeout  time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("%s: action %s exceeded %s", ErrExecutionTimeout, e.ActionID, e.Timeout)
}

func (e *ExecutionTimeoutError) Unwrap() error { return ErrExecutionTimeout }

// ExecutionFailure wraps an error raised by the action executor.
type ExecutionFailure struct {
	ActionID string
	Err      error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("%s: action %s: %v", ErrExecutionFailure, e.ActionID, e.Err)
}

// Unwrap exposes both the sentinel and the executor error.
func (e *ExecutionFailure) Unwrap() []error { return []error{ErrExecutionFailure, e.Err} }

// CapacityExceededError is returned to the enqueuing caller when a lane is full
// and no advisory entry could be evicted to make room.
type CapacityExceededError struct {
	Lane     string
	Capacity int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s: lane %s holds %d pending actions", ErrCapacityExceeded, e.Lane, e.Capacity)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// EmergencyEscalationError is raised when recovery attempts are exhausted.
type EmergencyEscalationError struct {
	Attempts int
	Reason   string
}

func (e *EmergencyEscalationError) Error() string {
	return fmt.Sprintf("%s: %d recovery attempts failed: %s", ErrEmergencyEscalation, e.Attempts, e.Reason)
}

func (e *EmergencyEscalationError) Unwrap() error { return ErrEmergencyEscalation }
