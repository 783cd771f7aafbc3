// Package store provides a SQLite-backed history of answered queries. Each
// record keeps the query, the answering mode, the answer text and the image
// filenames returned, so operators can audit what the service told users.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Record is one answered query.
type Record struct {
	// ID is the database row ID, set by Recent.
	ID int64 `json:"id"`
	// Query is the user's question as received.
	Query string `json:"query"`
	// Mode is the answering strategy, e.g. "general" or "section".
	Mode string `json:"mode"`
	// Answer is the text returned to the user.
	Answer string `json:"answer"`
	// Images are the image filenames returned with the answer.
	Images []string `json:"images"`
	// Failure is the error class when the query failed, empty otherwise.
	Failure string `json:"failure,omitempty"`
	// CreatedAt is when the record was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore persists and retrieves answered queries. Implementations must
// be safe for concurrent use.
type HistoryStore interface {
	// Append persists one record. CreatedAt is set by the store.
	Append(ctx context.Context, rec Record) error
	// Recent returns the most recent n records, newest first.
	Recent(ctx context.Context, n int) ([]Record, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns ~/.bpqa/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".bpqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: create dir for %s: %w", path, err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection keeps writes serialised and an in-memory DB alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS queries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    query        TEXT    NOT NULL,
    mode         TEXT    NOT NULL,
    answer       TEXT    NOT NULL,
    images       TEXT    NOT NULL DEFAULT '[]',
    failure      TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_queries_created ON queries (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists one record.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	images := rec.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("store: encode images: %w", err)
	}
	const q = `INSERT INTO queries (query, mode, answer, images, failure, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, rec.Query, rec.Mode, rec.Answer, string(imagesJSON), rec.Failure, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n records, newest first. A non-positive n
// returns nothing.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	const q = `
SELECT id, query, mode, answer, images, failure, created_at
FROM   queries
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			imagesJSON string
			ts         int64
		)
		if err := rows.Scan(&r.ID, &r.Query, &r.Mode, &r.Answer, &imagesJSON, &r.Failure, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		if err := json.Unmarshal([]byte(imagesJSON), &r.Images); err != nil {
			return nil, fmt.Errorf("store: decode images of record %d: %w", r.ID, err)
		}
		r.CreatedAt = time.Unix(ts, 0)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
