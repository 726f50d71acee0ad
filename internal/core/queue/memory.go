package queue

import (
	"sort"
	gosync "sync"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a non-durable queue for tests and throwaway sessions.
type MemoryStore struct {
	mu      gosync.Mutex
	entries map[sync.Key]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[sync.Key]Entry)}
}

func (s *MemoryStore) Enqueue(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

func (s *MemoryStore) IsQueued(key sync.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *MemoryStore) All() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[e.Key]; ok {
		cur.Tries = e.Tries
		cur.LastError = e.LastError
		s.entries[e.Key] = cur
	}
	return nil
}

func (s *MemoryStore) Remove(key sync.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
