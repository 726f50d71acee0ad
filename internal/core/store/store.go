// Package store persists shared documents. The document table is mutated
// only through the resolver's upsert; nothing else writes it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when the compare-and-set guard on Upsert
	// detects a concurrent writer.
	ErrConflict = errors.New("document modified concurrently")
)

// DocumentStore is the read/write/upsert surface over the document table.
type DocumentStore interface {
	// Get returns the document for key, or ErrNotFound.
	Get(ctx context.Context, key sync.Key) (*sync.Document, error)
	// Since returns all documents updated strictly after the watermark,
	// ordered by UpdatedAt ascending.
	Since(ctx context.Context, since time.Time) ([]sync.Document, error)
	// Upsert writes doc. A nil expected writes unconditionally. A non-nil
	// expected is a compare-and-set guard: a zero time asserts the row
	// does not exist yet, any other value must equal the stored UpdatedAt.
	// ErrConflict signals a concurrent writer got there first.
	Upsert(ctx context.Context, doc sync.Document, expected *time.Time) error
	// Ping verifies connectivity for readiness checks.
	Ping(ctx context.Context) error
}
