package router

import "errors"

var (
	ErrRecipientNotFound = errors.New("recipient not connected")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
