package repo

import "errors"

// Domain error taxonomy. Handlers map these to HTTP statuses and the
// websocket layer maps them to error events; anything else wrapping a
// store failure is treated as retryable.
var (
	// ErrValidation marks malformed input: bad ids, foreign cursors, unknown
	// message types.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden marks an action by a user who is not an active participant.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound marks an absent conversation, message or user.
	ErrNotFound = errors.New("not found")
)
