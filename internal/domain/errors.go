package domain

import (
	"errors"
	"fmt"
)

// Common domain errors raised by the scoring core and its callers.
var (
	// ErrInvalidTimeFormat indicates that an attempt string is malformed.
	ErrInvalidTimeFormat = errors.New("invalid time format")

	// ErrAttemptCountMismatch indicates that a result does not carry the
	// number of attempts its discipline requires.
	ErrAttemptCountMismatch = errors.New("attempt count mismatch")

	// ErrUnknownPolicy indicates that an averaging policy is not supported.
	ErrUnknownPolicy = errors.New("unknown averaging policy")

	// ErrInvalidRule indicates that a discipline rule is inconsistent,
	// e.g. an average of five with three attempts.
	ErrInvalidRule = errors.New("invalid discipline rule")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string

	// Err optionally classifies the failure for errors.Is.
	Err error
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap returns the classifying error, if any.
func (e *ValidationError) Unwrap() error { return e.Err }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// CountMismatchError reports how many attempts were expected and received.
func CountMismatchError(want, got int) error {
	return fmt.Errorf("%w: expected %d attempts, got %d", ErrAttemptCountMismatch, want, got)
}
