package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the support relay and capability layer. Callers match
// them with errors.Is.
var (
	// ErrNoAgentAvailable means no active agent exists for any role.
	ErrNoAgentAvailable = errors.New("no support agent available")

	// ErrNoActiveChat means an agent replied or ran /end with no open thread.
	ErrNoActiveChat = errors.New("no active support chat")

	// ErrNotFound covers absent orders, doctors, products and chats.
	ErrNotFound = errors.New("not found")

	// ErrAuthRequired means a capability needs a LOGGED_IN session.
	ErrAuthRequired = errors.New("authentication required")

	// ErrUpstreamFailure means a consumed capability errored or timed out.
	ErrUpstreamFailure = errors.New("upstream failure")
)

// ValidationError reports missing or malformed user input. The Field names
// what the user has to correct.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
