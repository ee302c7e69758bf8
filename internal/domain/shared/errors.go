package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches any DomainError carrying the same code, so a wrapped error still
// satisfies errors.Is against the package-level sentinel.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Wrap returns a copy of the error carrying cause
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		cause:   cause,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound     = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput = NewDomainError("INVALID_INPUT", "Invalid input provided")
)

// Request/reply errors
var (
	// ErrPublishFailed is returned when the broker rejects or cannot accept a message
	ErrPublishFailed = NewDomainError("PUBLISH_FAILED", "failed to publish message")
	// ErrReplyTimeout is returned when no reply arrives within the configured window
	ErrReplyTimeout = NewDomainError("REPLY_TIMEOUT", "timed out waiting for reply")
	// ErrRequestCancelled is returned when the caller's context ends before a reply arrives
	ErrRequestCancelled = NewDomainError("REQUEST_CANCELLED", "request cancelled before reply")
	// ErrDuplicateCorrelation is returned when a correlation ID is registered twice
	ErrDuplicateCorrelation = NewDomainError("DUPLICATE_CORRELATION", "correlation id already pending")
	// ErrBrokerStopped is returned when publishing to a broker that is not running
	ErrBrokerStopped = NewDomainError("BROKER_STOPPED", "broker is not running")
	// ErrInvalidEnvelope is returned when an envelope fails validation
	ErrInvalidEnvelope = NewDomainError("INVALID_ENVELOPE", "invalid envelope")
)
