package client

import "errors"

var (
	ErrAlreadyConnected   = errors.New("client already connected")
	ErrQueueFull          = errors.New("send queue full")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
