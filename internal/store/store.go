// Package store provides the durable local storage for fieldsync: the
// per-project edit queue, the per-team mirror sync state, and the cached
// last-seen project snapshots used for offline reads.
//
// Storage is a single SQLite database opened in WAL mode. Crash consistency
// at the single-statement granularity is what the queue semantics rely on:
// an enqueue is committed before the call returns, and a drain replaces a
// project's queue in one transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection holding all fieldsync local state.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the fieldsync database at path.
//
// The database is opened in WAL mode with a busy timeout, and the schema is
// created if it does not exist. The caller must Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// initSchema creates the tables if they don't exist. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS queued_edits (
		project_id  TEXT NOT NULL,
		task_id     TEXT NOT NULL,
		task_json   TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		queued_at   TEXT NOT NULL,
		PRIMARY KEY (project_id, task_id)
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		team_id    TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_cache (
		project_id   TEXT PRIMARY KEY,
		project_json TEXT NOT NULL,
		cached_at    TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queued_edits_project ON queued_edits(project_id);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
