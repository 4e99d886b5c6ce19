package types

import "errors"

// Validation errors shared across the core.
var (
	ErrMissingSessionID = errors.New("session ID is required")
	ErrInvalidRole      = errors.New("role must be anonymous-user, volunteer, or admin")
	ErrInvalidUrgency   = errors.New("urgency level must be low, medium, high, or emergency")
	ErrEmptyContent     = errors.New("message content cannot be empty")
	ErrContentTooLarge  = errors.New("message content exceeds 64KB limit")
	ErrInvalidPayload   = errors.New("invalid frame payload")
	ErrEmptyPayload     = errors.New("frame payload is empty")
	ErrUnknownFrameType = errors.New("unknown frame type")
)
