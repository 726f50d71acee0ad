package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrHubClosed            = errors.New("event hub is closed")
	ErrInvalidConfig        = errors.New("invalid server configuration")
)

// Error codes returned in JSON bodies.
const (
	codeInvalidKey     = "invalid_key"
	codeInvalidPayload = "invalid_payload"
	codeUnauthorized   = "unauthorized"
	codeForbidden      = "forbidden"
	codeStoreFailure   = "store_failure"
	codeBadRequest     = "bad_request"
)
