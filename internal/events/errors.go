package events

import "errors"

var (
	ErrDispatcherRunning    = errors.New("dispatcher is already running")
	ErrDispatcherNotRunning = errors.New("dispatcher is not running")
)
