package heartbeat

import "errors"

var (
	ErrMonitorRunning    = errors.New("heartbeat monitor already running")
	ErrMonitorNotRunning = errors.New("heartbeat monitor not running")
)
