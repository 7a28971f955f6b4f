// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deskmux-dev/deskmux/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by a single SQLite file. WAL mode
// allows concurrent readers (control API, CLI) while the orchestrator
// remains the sole writer.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
// A failure here is the only fatal startup condition: the daemon cannot
// run without its store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w: %w", store.ErrDatabase, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w: %w", store.ErrDatabase, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite db: %w: %w", store.ErrDatabase, err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	desktop_key      TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending_name',
	created_at       TEXT NOT NULL,
	ended_at         TEXT NOT NULL DEFAULT '',
	last_snapshot_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_desktop ON sessions(desktop_key, status);

CREATE TABLE IF NOT EXISTS snapshots (
	session_id   TEXT NOT NULL,
	captured_at  TEXT NOT NULL,
	window_count INTEGER NOT NULL DEFAULT 0,
	tab_count    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, captured_at),
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS window_entries (
	session_id      TEXT NOT NULL,
	captured_at     TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	process_name    TEXT NOT NULL DEFAULT '',
	executable_path TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	class           TEXT NOT NULL DEFAULT '',
	command_hint    TEXT NOT NULL DEFAULT '',
	minimized       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, captured_at, seq),
	FOREIGN KEY (session_id, captured_at) REFERENCES snapshots(session_id, captured_at) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS tab_entries (
	session_id   TEXT NOT NULL,
	captured_at  TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	favicon_url  TEXT NOT NULL DEFAULT '',
	pinned       INTEGER NOT NULL DEFAULT 0,
	window_group INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, captured_at, seq),
	FOREIGN KEY (session_id, captured_at) REFERENCES snapshots(session_id, captured_at) ON DELETE CASCADE
);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
