package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when no job record exists for an id
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is taken
	ErrJobExists = errors.New("job already exists")

	// ErrAccessDenied is returned when a caller reads or cancels a job
	// owned by someone else
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidTransition is returned when a lifecycle transition is
	// requested from a terminal state
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoFiles is returned when a submission contains no uploads
	ErrNoFiles = errors.New("at least one document is required")
)

// ValidationError reports a submit-time rejection of an upload. It is
// always surfaced to the caller; the job is never created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a named upload field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a submit-time validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrNoFiles)
}
