package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues.
var ErrDataIntegrity = errors.New("data integrity error")

// ErrNoResults represents situations in which no results were returned by the called API.
var ErrNoResults = errors.New("no results returned")

var (
	// ErrSessionNotFound is returned when an event references a session
	// that was never persisted.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidAttachment is returned when an attachment carries both or
	// neither of bytes and path.
	ErrInvalidAttachment = errors.New("attachment must have exactly one of bytes or path")

	// ErrProcessorClosed is returned when tracking after shutdown.
	ErrProcessorClosed = errors.New("processor closed")

	// ErrValidation marks records dropped because they exceed configured limits.
	ErrValidation = errors.New("validation failed")
)
