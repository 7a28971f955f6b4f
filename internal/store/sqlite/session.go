// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/deskmux-dev/deskmux/internal/store"
)

const sessionColumns = `id, name, desktop_key, status, created_at, ended_at, last_snapshot_at`

func (s *Store) CreateSession(ctx context.Context, session *store.Session) error {
	if session.ID == "" || session.DesktopKey == "" {
		return fmt.Errorf("session id and desktop key are required: %w", store.ErrInvalidInput)
	}

	// The open-session-per-desktop invariant is enforced here rather than by
	// a unique index: ended rows for the same key must stay queryable.
	var open int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE desktop_key = ? AND status != ?`,
		session.DesktopKey, string(store.SessionStatusEnded),
	).Scan(&open)
	if err != nil {
		return fmt.Errorf("checking open sessions for desktop %s: %w: %w", session.DesktopKey, store.ErrDatabase, err)
	}
	if open > 0 {
		return fmt.Errorf("desktop %s already has an open session: %w", session.DesktopKey, store.ErrConflict)
	}

	const q = `INSERT INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		session.ID,
		session.Name,
		session.DesktopKey,
		string(session.Status),
		formatTime(session.CreatedAt),
		formatTime(session.EndedAt),
		formatTime(session.LastSnapshotAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("session %s already exists: %w", session.ID, store.ErrConflict)
		}
		return fmt.Errorf("creating session %s: %w: %w", session.ID, store.ErrDatabase, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w: %w", id, store.ErrDatabase, err)
	}
	return session, nil
}

func (s *Store) GetSessionByDesktopKey(ctx context.Context, key string) (*store.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions
WHERE desktop_key = ? AND status != ? ORDER BY created_at DESC LIMIT 1`

	session, err := scanSession(s.db.QueryRowContext(ctx, q, key, string(store.SessionStatusEnded)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no open session for desktop %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session for desktop %s: %w: %w", key, store.ErrDatabase, err)
	}
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, session *store.Session) error {
	const q = `UPDATE sessions SET name = ?, desktop_key = ?, status = ?, ended_at = ?, last_snapshot_at = ?
WHERE id = ?`

	result, err := s.db.ExecContext(ctx, q,
		session.Name,
		session.DesktopKey,
		string(session.Status),
		formatTime(session.EndedAt),
		formatTime(session.LastSnapshotAt),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session %s: %w: %w", session.ID, store.ErrDatabase, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for session %s: %w: %w", session.ID, store.ErrDatabase, err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", session.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, opts store.ListOpts) ([]*store.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const q = `SELECT ` + sessionColumns + ` FROM sessions
ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w: %w", store.ErrDatabase, err)
	}
	defer rows.Close()

	var sessions []*store.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w: %w", store.ErrDatabase, err)
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w: %w", id, store.ErrDatabase, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for session %s: %w: %w", id, store.ErrDatabase, err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*store.Session, error) {
	var sess store.Session
	var status, createdAt, endedAt, lastSnapshotAt string

	if err := row.Scan(
		&sess.ID,
		&sess.Name,
		&sess.DesktopKey,
		&status,
		&createdAt,
		&endedAt,
		&lastSnapshotAt,
	); err != nil {
		return nil, err
	}

	sess.Status = store.SessionStatus(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.EndedAt = parseTime(endedAt)
	sess.LastSnapshotAt = parseTime(lastSnapshotAt)
	return &sess, nil
}

// formatTime serialises a time.Time to RFC3339 with nanosecond precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
