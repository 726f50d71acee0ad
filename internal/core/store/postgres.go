package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

var _ DocumentStore = (*PostgresStore)(nil)

// PostgresStore persists documents in a single table:
//
//	CREATE TABLE IF NOT EXISTS sync_documents (
//	    key                  TEXT PRIMARY KEY,
//	    value                JSONB NOT NULL,
//	    updated_at           TIMESTAMPTZ NOT NULL,
//	    updated_by_client_id TEXT NOT NULL DEFAULT '',
//	    updated_by_user_id   TEXT NOT NULL DEFAULT '',
//	    updated_by_name      TEXT NOT NULL DEFAULT ''
//	);
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sync_documents (
			key                  TEXT PRIMARY KEY,
			value                JSONB NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL,
			updated_by_client_id TEXT NOT NULL DEFAULT '',
			updated_by_user_id   TEXT NOT NULL DEFAULT '',
			updated_by_name      TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("migrate sync_documents: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key sync.Key) (*sync.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, value, updated_at, updated_by_client_id, updated_by_user_id, updated_by_name
		FROM sync_documents WHERE key = $1`, string(key))

	var doc sync.Document
	err := row.Scan(&doc.Key, &doc.Value, &doc.UpdatedAt,
		&doc.UpdatedByClientID, &doc.UpdatedByUserID, &doc.UpdatedByName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %q: %w", key, err)
	}
	return &doc, nil
}

func (s *PostgresStore) Since(ctx context.Context, since time.Time) ([]sync.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, updated_at, updated_by_client_id, updated_by_user_id, updated_by_name
		FROM sync_documents WHERE updated_at > $1 ORDER BY updated_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("query documents since %s: %w", since, err)
	}
	defer rows.Close()

	var out []sync.Document
	for rows.Next() {
		var doc sync.Document
		if err := rows.Scan(&doc.Key, &doc.Value, &doc.UpdatedAt,
			&doc.UpdatedByClientID, &doc.UpdatedByUserID, &doc.UpdatedByName); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Upsert(ctx context.Context, doc sync.Document, expected *time.Time) error {
	if expected == nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sync_documents (key, value, updated_at, updated_by_client_id, updated_by_user_id, updated_by_name)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at,
				updated_by_client_id = EXCLUDED.updated_by_client_id,
				updated_by_user_id = EXCLUDED.updated_by_user_id,
				updated_by_name = EXCLUDED.updated_by_name`,
			string(doc.Key), []byte(doc.Value), doc.UpdatedAt,
			doc.UpdatedByClientID, doc.UpdatedByUserID, doc.UpdatedByName)
		if err != nil {
			return fmt.Errorf("upsert document %q: %w", doc.Key, err)
		}
		return nil
	}

	if expected.IsZero() {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO sync_documents (key, value, updated_at, updated_by_client_id, updated_by_user_id, updated_by_name)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO NOTHING`,
			string(doc.Key), []byte(doc.Value), doc.UpdatedAt,
			doc.UpdatedByClientID, doc.UpdatedByUserID, doc.UpdatedByName)
		if err != nil {
			return fmt.Errorf("insert document %q: %w", doc.Key, err)
		}
		return casResult(res)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_documents SET
			value = $2,
			updated_at = $3,
			updated_by_client_id = $4,
			updated_by_user_id = $5,
			updated_by_name = $6
		WHERE key = $1 AND updated_at = $7`,
		string(doc.Key), []byte(doc.Value), doc.UpdatedAt,
		doc.UpdatedByClientID, doc.UpdatedByUserID, doc.UpdatedByName, *expected)
	if err != nil {
		return fmt.Errorf("update document %q: %w", doc.Key, err)
	}
	return casResult(res)
}

func casResult(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
