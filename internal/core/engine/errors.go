package engine

import "errors"

// Client-side error taxonomy. Errors never propagate into the surrounding
// application; they surface through the status event detail and the audit
// hook only.
var (
	// ErrAuthMissing means no bearer token is available. Pushes and pulls
	// are skipped, not counted as failures.
	ErrAuthMissing = errors.New("no auth token available")
	// ErrForbidden is a 403 push response. Permanent: the entry is dropped,
	// never retried.
	ErrForbidden = errors.New("write forbidden")
	// ErrInvalidKey is a 400 push response. Permanent and logged: it
	// indicates a caller bug, not a transient condition.
	ErrInvalidKey = errors.New("invalid key rejected by server")
	// ErrUnauthorized is a 401 response; the token is stale or revoked.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEngineClosed is returned after Shutdown.
	ErrEngineClosed = errors.New("engine is closed")
	// ErrFlushInFlight rejects a concurrent flush trigger.
	ErrFlushInFlight = errors.New("flush already in progress")
)

// TransientError wraps network failures, 5xx responses and malformed
// response bodies: the entry is retained and retried on the next trigger.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func transient(err error) error {
	return &TransientError{Err: err}
}

// IsPermanent reports whether a push error must drop the queue entry
// instead of retrying it.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrInvalidKey)
}
