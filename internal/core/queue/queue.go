// Package queue buffers pending pushes while the engine cannot reach a
// healthy channel. One entry per key: a newer local write for the same key
// overwrites the queued one, intermediate values are not preserved.
package queue

import (
	"encoding/json"
	"time"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

// Entry is one pending push.
type Entry struct {
	Key        sync.Key        `json:"key"`
	Value      json.RawMessage `json:"value"`
	RemovedIDs []string        `json:"removedIds,omitempty"`
	Op         sync.Op         `json:"op"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Tries      int             `json:"tries"`
	LastError  string          `json:"lastError,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Enqueue reasons recorded for diagnostics.
const (
	ReasonOffline    = "offline"
	ReasonPushFailed = "push_failed"
	ReasonNoToken    = "no_token"
)

// Store is the pending-write buffer consumed by the engine.
type Store interface {
	// Enqueue stores e, overwriting any queued entry for the same key.
	Enqueue(e Entry) error
	// IsQueued reports whether an unflushed entry exists for key. The
	// engine must skip remote applies for queued keys so a remote update
	// cannot clobber an unflushed local change.
	IsQueued(key sync.Key) bool
	// All returns every queued entry, oldest first.
	All() ([]Entry, error)
	// Update rewrites the bookkeeping fields (Tries, LastError) of an
	// existing entry without touching its position.
	Update(e Entry) error
	// Remove deletes the entry for key, if any.
	Remove(key sync.Key) error
	Close() error
}
