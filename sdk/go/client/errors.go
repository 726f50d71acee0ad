package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed    = errors.New("client is closed")
	ErrAlreadyStarted  = errors.New("client is already started")
	ErrInvalidConfig   = errors.New("invalid client configuration")
	ErrNoTokenProvider = errors.New("token provider is required")
	ErrInvalidKey      = errors.New("key is not in the sync allow-list")
)
