package storage

import "errors"

var (
	ErrStoreClosed  = errors.New("event log store is closed")
	ErrWriteTimeout = errors.New("event log write timed out")
)
