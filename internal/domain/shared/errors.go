// Package shared contains common domain types and errors that are used across
// all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")
	ErrConflict = errors.New("conflicting update")

	// Validation errors
	ErrInvalidArgument = errors.New("invalid argument")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "grouping", "roster"
	Op      string // Operation that failed, e.g., "Group", "Load"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Grouping domain errors
var (
	ErrInvalidGroupSize = NewDomainError("grouping", "Group", ErrInvalidArgument, "group size must be a positive integer")
	ErrEmptyRoster      = NewDomainError("grouping", "Group", ErrInvalidArgument, "students cannot be empty")
	ErrTooManyStudents  = NewDomainError("grouping", "Group", ErrInvalidArgument, "too many students in one request")
)

// Roster domain errors
var (
	ErrRosterNotFound  = NewDomainError("roster", "Load", ErrNotFound, "roster not found")
	ErrInvalidRosterID = NewDomainError("roster", "Validate", ErrInvalidArgument, "invalid roster ID")
	ErrMalformedRecord = NewDomainError("student", "Decode", ErrInvalidArgument, "malformed student record")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidArgument checks if the error is an argument validation error.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}
