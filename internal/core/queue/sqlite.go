package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the durable queue. It survives process restarts so writes
// made offline are flushed on the next successful subscribe.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the queue database under dataDir.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "syncqueue.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	// single writer; WAL keeps readers unblocked
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_writes (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			removed_ids TEXT NOT NULL DEFAULT '[]',
			op          TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL,
			tries       INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT '',
			reason      TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		return nil, fmt.Errorf("migrate pending_writes: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Enqueue(e Entry) error {
	removed, err := json.Marshal(e.RemovedIDs)
	if err != nil {
		return fmt.Errorf("encode removed ids: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO pending_writes (key, value, removed_ids, op, enqueued_at, tries, last_error, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			removed_ids = excluded.removed_ids,
			op = excluded.op,
			enqueued_at = excluded.enqueued_at,
			tries = excluded.tries,
			last_error = excluded.last_error,
			reason = excluded.reason`,
		string(e.Key), string(e.Value), string(removed), string(e.Op),
		e.EnqueuedAt.UnixMilli(), e.Tries, e.LastError, e.Reason)
	if err != nil {
		return fmt.Errorf("enqueue %q: %w", e.Key, err)
	}
	return nil
}

func (s *SQLiteStore) IsQueued(key sync.Key) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM pending_writes WHERE key = ?`, string(key)).Scan(&one)
	return err == nil
}

func (s *SQLiteStore) All() ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT key, value, removed_ids, op, enqueued_at, tries, last_error, reason
		FROM pending_writes ORDER BY enqueued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending writes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			key, op    string
			value      string
			removedRaw string
			enqueuedMs int64
		)
		if err := rows.Scan(&key, &value, &removedRaw, &op, &enqueuedMs, &e.Tries, &e.LastError, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}
		e.Key = sync.Key(key)
		e.Value = json.RawMessage(value)
		e.Op = sync.Op(op)
		e.EnqueuedAt = time.UnixMilli(enqueuedMs)
		if err := json.Unmarshal([]byte(removedRaw), &e.RemovedIDs); err != nil {
			return nil, fmt.Errorf("decode removed ids for %q: %w", key, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(e Entry) error {
	_, err := s.db.Exec(`
		UPDATE pending_writes SET tries = ?, last_error = ? WHERE key = ?`,
		e.Tries, e.LastError, string(e.Key))
	if err != nil {
		return fmt.Errorf("update %q: %w", e.Key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(key sync.Key) error {
	_, err := s.db.Exec(`DELETE FROM pending_writes WHERE key = ?`, string(key))
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
