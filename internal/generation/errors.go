package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by generation service implementations
var (
	// ErrSessionNotFound is returned when the service does not know a session
	// id, usually because it expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRejected is returned when the service refuses a request (4xx).
	ErrRejected = errors.New("request rejected by generation service")

	// ErrUnavailable is returned for failures that might resolve on retry
	// (network errors, 5xx).
	ErrUnavailable = errors.New("generation service unavailable")

	// ErrInvalidResponse is returned when a response body cannot be parsed.
	ErrInvalidResponse = errors.New("invalid response from generation service")

	// ErrMissingSessionID is returned when a generate response carries no
	// session id.
	ErrMissingSessionID = errors.New("generation service did not assign a session id")
)

// RemoteError describes a failed call to the generation service.
type RemoteError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface for RemoteError.
func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError creates a RemoteError.
func NewRemoteError(operation string, statusCode int, message string, err error) *RemoteError {
	return &RemoteError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
