// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrStorage     = errors.New("storage error")
	ErrTimeout     = errors.New("timeout")
	ErrConsistency = errors.New("consistency error")
	ErrUnavailable = errors.New("unavailable")
	ErrInternal    = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "type", "inputDataGuid")
	Resource string // For not found/conflict (e.g., "job", "data")
	Op       string // Operation that failed (e.g., "jobdata.store")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and, when present, the cause so that both
// classify through errors.Is().
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Sentinel, e.Cause}
	}
	return []error{e.Sentinel}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  fmt.Sprintf("%s %s: %s", resource, id, reason),
		Resource: resource,
	}
}

// Storage creates an error for an unavailable or failing data store.
func Storage(op string, cause error) error {
	return &Error{
		Sentinel: ErrStorage,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Timeout creates an error for a wait whose deadline elapsed.
func Timeout(resource, id string, after fmt.Stringer) error {
	return &Error{
		Sentinel: ErrTimeout,
		Message:  fmt.Sprintf("timed out after %s waiting for %s %s", after, resource, id),
		Resource: resource,
	}
}

// Consistency creates an error for inconsistent static data detected at startup.
func Consistency(resource, message string) error {
	return &Error{
		Sentinel: ErrConsistency,
		Message:  message,
		Resource: resource,
	}
}

// Unavailable creates an error for a component that cannot accept work right now.
func Unavailable(resource, reason string) error {
	return &Error{
		Sentinel: ErrUnavailable,
		Message:  fmt.Sprintf("%s unavailable: %s", resource, reason),
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
