// Package channel abstracts the realtime transport that delivers document
// change events. The engine only sees the Adapter interface; the concrete
// transport is a websocket subscription to the server's event hub.
package channel

import (
	"context"
	"errors"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

// Status is a lifecycle callback value. The names mirror the states a
// pub/sub channel reports during its life.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// ErrReauthorizeUnavailable signals that the adapter cannot rotate the
// token in place; the caller must tear down and resubscribe.
var ErrReauthorizeUnavailable = errors.New("in-place reauthorization unavailable")

// ChangeFunc receives one document change event.
type ChangeFunc func(sync.ChangeEvent)

// StatusFunc receives lifecycle transitions. err is non-nil for error
// statuses and carries the underlying cause.
type StatusFunc func(status Status, err error)

// Unsubscribe tears down a subscription. Idempotent.
type Unsubscribe func()

// Adapter is the thin transport interface the engine consumes.
type Adapter interface {
	// Subscribe opens the realtime subscription. onStatus fires
	// StatusSubscribed once the subscription is live, then error/closed
	// statuses as the transport's life unfolds. The returned Unsubscribe
	// silences all further callbacks.
	Subscribe(ctx context.Context, token string, onChange ChangeFunc, onStatus StatusFunc) (Unsubscribe, error)
	// Reauthorize rotates the bearer token on the live subscription when
	// the transport supports it, else ErrReauthorizeUnavailable.
	Reauthorize(token string) error
}
