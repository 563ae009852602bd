package session

import "errors"

var (
	// ErrNotFound is returned when the id is unknown or the session expired.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when the requested status change is not
	// legal from the session's current status.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrIDExhausted is returned when no unused id could be generated.
	ErrIDExhausted = errors.New("session id space exhausted")
	// ErrInvalidStatus is returned for status values outside the state machine.
	ErrInvalidStatus = errors.New("invalid session status")
)
