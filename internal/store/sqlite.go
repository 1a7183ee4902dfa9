package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create record db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record db: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set record db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set record db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	properties_json TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize record db schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, target, scope string, isTemplate bool) (Record, error) {
	if target == "" {
		return Record{}, fmt.Errorf("target cannot be empty")
	}

	id := NewRecordID(target, isTemplate)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO records (id, target, scope, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`, id, target, scope, now); err != nil {
		return Record{}, fmt.Errorf("%w: insert record %q: %v", ErrUnavailable, id, err)
	}

	var rec Record
	err := s.db.QueryRowContext(ctx, `SELECT id, target, scope FROM records WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Target, &rec.Scope)
	if err != nil {
		return Record{}, fmt.Errorf("%w: query record %q: %v", ErrUnavailable, id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec Record, props map[string]any) error {
	payload, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("marshal record properties: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE records SET properties_json = ?, updated_at = ? WHERE id = ?`,
		string(payload), now, rec.ID)
	if err != nil {
		return fmt.Errorf("%w: update record %q: %v", ErrUnavailable, rec.ID, err)
	}
	return requireAffected(res, rec.ID)
}

func (s *SQLiteStore) Delete(ctx context.Context, rec Record) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, rec.ID)
	if err != nil {
		return fmt.Errorf("%w: delete record %q: %v", ErrUnavailable, rec.ID, err)
	}
	return requireAffected(res, rec.ID)
}

// List returns all records ordered by ID.
func (s *SQLiteStore) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, target, scope, properties_json FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]Snapshot, 0)
	for rows.Next() {
		var snap Snapshot
		var propsJSON string
		if err := rows.Scan(&snap.ID, &snap.Target, &snap.Scope, &propsJSON); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		if err := json.Unmarshal([]byte(propsJSON), &snap.Properties); err != nil {
			return nil, fmt.Errorf("unmarshal record %q: %w", snap.ID, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return out, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for %q: %v", ErrUnavailable, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
