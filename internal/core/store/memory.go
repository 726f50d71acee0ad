package store

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

var _ DocumentStore = (*MemoryStore)(nil)

// MemoryStore is an in-process DocumentStore used by tests and by the dev
// server when no database is configured.
type MemoryStore struct {
	mu   gosync.RWMutex
	docs map[sync.Key]sync.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[sync.Key]sync.Document)}
}

func (s *MemoryStore) Get(_ context.Context, key sync.Key) (*sync.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := doc
	cp.Value = append([]byte(nil), doc.Value...)
	return &cp, nil
}

func (s *MemoryStore) Since(_ context.Context, since time.Time) ([]sync.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []sync.Document
	for _, doc := range s.docs {
		if doc.UpdatedAt.After(since) {
			cp := doc
			cp.Value = append([]byte(nil), doc.Value...)
			out = append(out, cp)
		}
	}
	sortByUpdatedAt(out)
	return out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, doc sync.Document, expected *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expected != nil {
		current, exists := s.docs[doc.Key]
		switch {
		case expected.IsZero() && exists:
			return ErrConflict
		case !expected.IsZero() && (!exists || !current.UpdatedAt.Equal(*expected)):
			return ErrConflict
		}
	}

	doc.Value = append([]byte(nil), doc.Value...)
	s.docs[doc.Key] = doc
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func sortByUpdatedAt(docs []sync.Document) {
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.Before(docs[j].UpdatedAt)
	})
}
