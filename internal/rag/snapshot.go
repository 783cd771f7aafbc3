package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// snapshotFormat is bumped whenever the snapshot schema changes. Snapshots
// with any other version are treated as corrupt and rebuilt.
const snapshotFormat = 1

// SQLiteSnapshot persists the index as a single SQLite file. Save writes a
// temporary file next to the target and renames it into place, so readers
// never observe a partial snapshot.
type SQLiteSnapshot struct {
	path string
}

// NewSQLiteSnapshot returns a store backed by the file at path.
func NewSQLiteSnapshot(path string) *SQLiteSnapshot {
	return &SQLiteSnapshot{path: path}
}

// Describe names the store for logs.
func (s *SQLiteSnapshot) Describe() string { return "sqlite:" + s.path }

// Path returns the snapshot location.
func (s *SQLiteSnapshot) Path() string { return s.path }

const snapshotDDL = `
CREATE TABLE meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE chunks (
    seq         INTEGER PRIMARY KEY,
    id          TEXT    NOT NULL,
    source      TEXT    NOT NULL,
    position    INTEGER NOT NULL,
    byte_offset INTEGER NOT NULL,
    content     TEXT    NOT NULL,
    vector      BLOB    NOT NULL
);
`

// Save writes a fresh snapshot and returns an in-memory [Flat] over it.
func (s *SQLiteSnapshot) Save(ctx context.Context, meta Meta, chunks []Chunk, vectors [][]float32) (Index, error) {
	flat, err := NewFlat(meta, chunks, vectors)
	if err != nil {
		return nil, err
	}
	meta = flat.Meta()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("snapshot: create %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	_ = os.Remove(tmp)

	if err := writeSnapshot(ctx, tmp, meta, flat); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("snapshot: rename into place: %w", err)
	}
	return flat, nil
}

func writeSnapshot(ctx context.Context, path string, meta Meta, flat *Flat) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, snapshotDDL); err != nil {
		return fmt.Errorf("snapshot: create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	metaRows := map[string]string{
		"format":      strconv.Itoa(snapshotFormat),
		"model":       meta.Model,
		"dimension":   strconv.Itoa(meta.Dimension),
		"fingerprint": meta.Fingerprint,
		"count":       strconv.Itoa(meta.Count),
		"built_at":    meta.BuiltAt.UTC().Format(time.RFC3339),
	}
	for k, v := range metaRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("snapshot: write meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (seq, id, source, position, byte_offset, content, vector) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("snapshot: prepare: %w", err)
	}
	defer stmt.Close()

	for i, c := range flat.chunks {
		if _, err := stmt.ExecContext(ctx, c.Seq, c.ID, c.Source, c.Position, c.Offset, c.Content, encodeVector(flat.vectors[i])); err != nil {
			return fmt.Errorf("snapshot: write chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}
	return nil
}

// Open reads the snapshot fully into memory.
func (s *SQLiteSnapshot) Open(ctx context.Context) (Index, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, s.path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, s.path, err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIndexCorrupt, s.path, err)
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, s.path, err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT seq, id, source, position, byte_offset, content, vector FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, s.path, err)
	}
	defer rows.Close()

	var (
		chunks  []Chunk
		vectors [][]float32
	)
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.Seq, &c.ID, &c.Source, &c.Position, &c.Offset, &c.Content, &blob); err != nil {
			return nil, fmt.Errorf("%w: %s: scan: %v", ErrIndexCorrupt, s.path, err)
		}
		v, err := decodeVector(blob, meta.Dimension)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: chunk %d: %v", ErrIndexCorrupt, s.path, c.Seq, err)
		}
		chunks = append(chunks, c)
		vectors = append(vectors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, s.path, err)
	}
	if len(chunks) == 0 || len(chunks) != meta.Count {
		return nil, fmt.Errorf("%w: %s: %d chunks stored, meta says %d", ErrIndexCorrupt, s.path, len(chunks), meta.Count)
	}

	flat, err := NewFlat(meta, chunks, vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, s.path, err)
	}
	return flat, nil
}

func readMeta(ctx context.Context, db *sql.DB) (Meta, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return Meta{}, err
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, err
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Meta{}, err
	}

	if kv["format"] != strconv.Itoa(snapshotFormat) {
		return Meta{}, fmt.Errorf("unsupported snapshot format %q", kv["format"])
	}
	dim, err := strconv.Atoi(kv["dimension"])
	if err != nil || dim <= 0 {
		return Meta{}, fmt.Errorf("bad dimension %q", kv["dimension"])
	}
	count, err := strconv.Atoi(kv["count"])
	if err != nil {
		return Meta{}, fmt.Errorf("bad count %q", kv["count"])
	}
	built, _ := time.Parse(time.RFC3339, kv["built_at"])

	return Meta{
		Model:       kv["model"],
		Dimension:   dim,
		Fingerprint: kv["fingerprint"],
		Count:       count,
		BuiltAt:     built,
	}, nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

// decodeVector unpacks a blob written by encodeVector.
func decodeVector(b []byte, dim int) ([]float32, error) {
	if len(b) != 4*dim {
		return nil, fmt.Errorf("vector blob has %d bytes, want %d", len(b), 4*dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
