package relay

import (
	"errors"
	"fmt"

	"github.com/handoff/relay/internal/session"
)

// Errors returned by Gateway operations. ErrNotFound and ErrInvalidTransition
// are the store's sentinels, so errors.Is works across both packages.
var (
	ErrNotFound          = session.ErrNotFound
	ErrInvalidTransition = session.ErrInvalidTransition
	ErrValidation        = errors.New("relay: validation failed")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("relay: invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// errorKind buckets an error for metrics and logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
