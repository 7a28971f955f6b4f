// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/deskmux-dev/deskmux/internal/store"
)

// WriteSnapshot persists one snapshot bundle in a single transaction:
// snapshot row, window entries, tab entries, and the session's
// last_snapshot_at all land together or not at all, so a concurrent reader
// never observes a half-updated snapshot.
func (s *Store) WriteSnapshot(ctx context.Context, snap *store.Snapshot) error {
	if snap.SessionID == "" || snap.CapturedAt.IsZero() {
		return fmt.Errorf("snapshot session id and timestamp are required: %w", store.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w: %w", store.ErrDatabase, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, snap.SessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", snap.SessionID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("checking session %s: %w: %w", snap.SessionID, store.ErrDatabase, err)
	}
	if store.SessionStatus(status) != store.SessionStatusActive {
		return fmt.Errorf("session %s is %s, snapshots require an active session: %w",
			snap.SessionID, status, store.ErrConflict)
	}

	capturedAt := formatTime(snap.CapturedAt)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, captured_at, window_count, tab_count) VALUES (?, ?, ?, ?)`,
		snap.SessionID, capturedAt, len(snap.Windows), len(snap.Tabs),
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot for session %s: %w: %w", snap.SessionID, store.ErrDatabase, err)
	}

	for i, w := range snap.Windows {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO window_entries (session_id, captured_at, seq, process_name, executable_path, title, class, command_hint, minimized)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.SessionID, capturedAt, i,
			w.ProcessName, w.ExecutablePath, w.Title, w.Class, w.CommandHint, boolToInt(w.Minimized),
		)
		if err != nil {
			return fmt.Errorf("inserting window entry %d for session %s: %w: %w", i, snap.SessionID, store.ErrDatabase, err)
		}
	}

	for i, t := range snap.Tabs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tab_entries (session_id, captured_at, seq, url, title, favicon_url, pinned, window_group)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.SessionID, capturedAt, i,
			t.URL, t.Title, t.FaviconURL, boolToInt(t.Pinned), t.WindowGroup,
		)
		if err != nil {
			return fmt.Errorf("inserting tab entry %d for session %s: %w: %w", i, snap.SessionID, store.ErrDatabase, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET last_snapshot_at = ? WHERE id = ?`,
		capturedAt, snap.SessionID,
	)
	if err != nil {
		return fmt.Errorf("updating last_snapshot_at for session %s: %w: %w", snap.SessionID, store.ErrDatabase, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot for session %s: %w: %w", snap.SessionID, store.ErrDatabase, err)
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (*store.Snapshot, error) {
	var capturedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT captured_at FROM snapshots WHERE session_id = ? ORDER BY captured_at DESC LIMIT 1`,
		sessionID,
	).Scan(&capturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no snapshot for session %s: %w", sessionID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest snapshot for session %s: %w: %w", sessionID, store.ErrDatabase, err)
	}

	snap := &store.Snapshot{
		SessionID:  sessionID,
		CapturedAt: parseTime(capturedAt),
	}

	if snap.Windows, err = s.windowEntries(ctx, sessionID, capturedAt); err != nil {
		return nil, err
	}
	if snap.Tabs, err = s.tabEntries(ctx, sessionID, capturedAt); err != nil {
		return nil, err
	}

	return snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context, sessionID string, opts store.ListOpts) ([]store.SnapshotInfo, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const q = `SELECT session_id, captured_at, window_count, tab_count FROM snapshots
WHERE session_id = ? ORDER BY captured_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, sessionID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for session %s: %w: %w", sessionID, store.ErrDatabase, err)
	}
	defer rows.Close()

	var infos []store.SnapshotInfo
	for rows.Next() {
		var info store.SnapshotInfo
		var capturedAt string
		if err := rows.Scan(&info.SessionID, &capturedAt, &info.WindowCount, &info.TabCount); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w: %w", store.ErrDatabase, err)
		}
		info.CapturedAt = parseTime(capturedAt)
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

func (s *Store) windowEntries(ctx context.Context, sessionID, capturedAt string) ([]store.WindowEntry, error) {
	const q = `SELECT process_name, executable_path, title, class, command_hint, minimized
FROM window_entries WHERE session_id = ? AND captured_at = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, q, sessionID, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("loading window entries for session %s: %w: %w", sessionID, store.ErrDatabase, err)
	}
	defer rows.Close()

	var entries []store.WindowEntry
	for rows.Next() {
		var e store.WindowEntry
		var minimized int
		if err := rows.Scan(&e.ProcessName, &e.ExecutablePath, &e.Title, &e.Class, &e.CommandHint, &minimized); err != nil {
			return nil, fmt.Errorf("scanning window entry: %w: %w", store.ErrDatabase, err)
		}
		e.Minimized = minimized != 0
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *Store) tabEntries(ctx context.Context, sessionID, capturedAt string) ([]store.TabEntry, error) {
	const q = `SELECT url, title, favicon_url, pinned, window_group
FROM tab_entries WHERE session_id = ? AND captured_at = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, q, sessionID, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("loading tab entries for session %s: %w: %w", sessionID, store.ErrDatabase, err)
	}
	defer rows.Close()

	var entries []store.TabEntry
	for rows.Next() {
		var e store.TabEntry
		var pinned int
		if err := rows.Scan(&e.URL, &e.Title, &e.FaviconURL, &pinned, &e.WindowGroup); err != nil {
			return nil, fmt.Errorf("scanning tab entry: %w: %w", store.ErrDatabase, err)
		}
		e.Pinned = pinned != 0
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
