package service

import (
	"errors"
	"fmt"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is.
var (
	// ErrBusy is returned when a generation or sync run is already attached.
	ErrBusy = errors.New("operation already in progress")

	// ErrNoSession is returned by operations that need an active session.
	ErrNoSession = errors.New("no active session")

	// ErrNoEdit is returned when saving without a matching open edit.
	ErrNoEdit = errors.New("no card is being edited")

	// ErrNoEstimation is returned by Recompute before Estimate has succeeded.
	ErrNoEstimation = errors.New("no cached estimation")

	// ErrNotRecoverable is returned by Reattach when there is no recovered
	// session waiting for its stream.
	ErrNotRecoverable = errors.New("no running session to re-attach to")

	// ErrStreamStalled is reported when a stream delivers nothing for longer
	// than the configured idle timeout.
	ErrStreamStalled = errors.New("stream stalled")

	// ErrStreamEnded is reported when a stream closes without a terminal event.
	ErrStreamEnded = errors.New("stream ended before the run finished")
)

// ServiceError is a custom error type for orchestrator failures.
type ServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
