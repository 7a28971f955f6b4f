// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package store

import "context"

// SessionStore manages session rows. The orchestrator is the sole writer;
// readers (control API, CLI) only observe.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// GetSessionByDesktopKey returns the open (non-ended) session bound to
	// the given desktop key, or ErrNotFound.
	GetSessionByDesktopKey(ctx context.Context, key string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	ListSessions(ctx context.Context, opts ListOpts) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// SnapshotStore manages snapshot bundles. WriteSnapshot persists the window
// set, the tab set, and the session's LastSnapshotAt in one transaction, and
// rejects the write with ErrConflict unless the session is active.
type SnapshotStore interface {
	WriteSnapshot(ctx context.Context, snap *Snapshot) error
	// LatestSnapshot returns the most recent snapshot for the session, or
	// ErrNotFound when none has been written yet.
	LatestSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, sessionID string, opts ListOpts) ([]SnapshotInfo, error)
}

// Store is the full persistence surface owned by the daemon.
type Store interface {
	SessionStore
	SnapshotStore
	Close() error
}
