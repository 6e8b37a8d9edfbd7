package apperrors

import "errors"

// This package defines a centralized set of sentinel errors for the
// assistant core. Services return these so callers can distinguish
// failure classes with errors.Is without coupling to implementation
// details.

var (
	// ErrNoCurrentThread is returned when a streamed message starts while
	// no thread is current. This is a caller contract breach, not a
	// recoverable condition.
	ErrNoCurrentThread = errors.New("current thread is not set")

	// ErrMessageInFlight is returned when a second streamed message starts
	// while one is still buffered. The transport contract guarantees a
	// single in-flight message, so this indicates a protocol violation.
	ErrMessageInFlight = errors.New("assistant message already in flight")

	// ErrThreadNotFound signifies that a referenced thread is not present
	// in the session's thread list.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrValidation signifies that configuration or input data failed
	// validation.
	ErrValidation = errors.New("validation failed")
)
