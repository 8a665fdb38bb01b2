// Package store owns the persistent sync queue: entry persistence, the state
// machine, quota accounting, and the eviction policy.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps sql.DB with FieldSync-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the local queue database. The database runs in WAL mode with a
// single writer; the engine is the only process touching it.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "fieldsync.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Must be set before the first table is created to take effect;
	// reclaim relies on incremental vacuum to return freed pages.
	if _, err := db.Exec("PRAGMA auto_vacuum=INCREMENTAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set auto vacuum: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	wrapped := &DB{db}
	if err := wrapped.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return wrapped, nil
}

// initSchema creates the queue tables if they do not exist.
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_entries (
		local_id         TEXT PRIMARY KEY,
		fingerprint      TEXT NOT NULL CHECK(length(fingerprint) = 64),
		payload          TEXT NOT NULL,
		state            TEXT NOT NULL CHECK(state IN
			('pending','syncing','synced','failed','conflicted','abandoned')),
		remote_version   INTEGER NOT NULL DEFAULT 0,
		attempt_count    INTEGER NOT NULL DEFAULT 0 CHECK(attempt_count >= 0),
		last_attempt_at  INTEGER NOT NULL DEFAULT 0,
		next_eligible_at INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL,
		mutated_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queue_state_eligible
		ON queue_entries(state, next_eligible_at);
	CREATE INDEX IF NOT EXISTS idx_queue_fingerprint
		ON queue_entries(fingerprint);

	CREATE TABLE IF NOT EXISTS conflict_records (
		id              TEXT PRIMARY KEY,
		local_id        TEXT NOT NULL REFERENCES queue_entries(local_id) ON DELETE CASCADE,
		local_version   INTEGER NOT NULL,
		remote_version  INTEGER NOT NULL,
		remote_snapshot TEXT NOT NULL,
		strategy        TEXT NOT NULL,
		action          TEXT NOT NULL,
		detected_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conflict_local_id
		ON conflict_records(local_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// UsedBytes reports the database's true on-disk usage as seen by SQLite.
func (db *DB) UsedBytes() (int64, error) {
	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count;").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to read page count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size;").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to read page size: %w", err)
	}
	return pageCount * pageSize, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
