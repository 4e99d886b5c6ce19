package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
	ErrInvalidFrame     = errors.New("frame could not be encoded")
)

// Registry-related errors
var (
	ErrNilConnection  = errors.New("connection cannot be nil")
	ErrMissingSession = errors.New("connection has no session ID")
	ErrDuplicateID    = errors.New("connection ID already registered")
)
