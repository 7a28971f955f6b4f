// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// Memory is an in-memory Store used by tests and as the orchestrator test
// double. It mirrors the SQLite implementation's semantics, including the
// active-only snapshot write rule and the open-session-per-desktop rule.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	snapshots map[string][]*Snapshot // sessionID -> chronological
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]*Session),
		snapshots: make(map[string][]*Snapshot),
	}
}

func (m *Memory) CreateSession(_ context.Context, session *Session) error {
	if session.ID == "" || session.DesktopKey == "" {
		return fmt.Errorf("session id and desktop key are required: %w", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists: %w", session.ID, ErrConflict)
	}
	for _, existing := range m.sessions {
		if existing.DesktopKey == session.DesktopKey && existing.Open() {
			return fmt.Errorf("desktop %s already has an open session: %w", session.DesktopKey, ErrConflict)
		}
	}

	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) GetSessionByDesktopKey(_ context.Context, key string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.DesktopKey == key && s.Open() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no open session for desktop %s: %w", key, ErrNotFound)
}

func (m *Memory) UpdateSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return fmt.Errorf("session %s: %w", session.ID, ErrNotFound)
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *Memory) ListSessions(_ context.Context, opts ListOpts) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	return paginate(all, opts), nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	delete(m.sessions, id)
	delete(m.snapshots, id)
	return nil
}

func (m *Memory) WriteSnapshot(_ context.Context, snap *Snapshot) error {
	if snap.SessionID == "" || snap.CapturedAt.IsZero() {
		return fmt.Errorf("snapshot session id and timestamp are required: %w", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[snap.SessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", snap.SessionID, ErrNotFound)
	}
	if session.Status != SessionStatusActive {
		return fmt.Errorf("session %s is %s, snapshots require an active session: %w",
			snap.SessionID, session.Status, ErrConflict)
	}

	cp := copySnapshot(snap)
	m.snapshots[snap.SessionID] = append(m.snapshots[snap.SessionID], cp)
	session.LastSnapshotAt = snap.CapturedAt
	return nil
}

func (m *Memory) LatestSnapshot(_ context.Context, sessionID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.snapshots[sessionID]
	if len(snaps) == 0 {
		return nil, fmt.Errorf("no snapshot for session %s: %w", sessionID, ErrNotFound)
	}
	return copySnapshot(snaps[len(snaps)-1]), nil
}

func (m *Memory) ListSnapshots(_ context.Context, sessionID string, opts ListOpts) ([]SnapshotInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.snapshots[sessionID]
	infos := make([]SnapshotInfo, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- { // newest first
		infos = append(infos, SnapshotInfo{
			SessionID:   snaps[i].SessionID,
			CapturedAt:  snaps[i].CapturedAt,
			WindowCount: len(snaps[i].Windows),
			TabCount:    len(snaps[i].Tabs),
		})
	}
	return paginate(infos, opts), nil
}

func (m *Memory) Close() error {
	return nil
}

func copySnapshot(snap *Snapshot) *Snapshot {
	cp := &Snapshot{
		SessionID:  snap.SessionID,
		CapturedAt: snap.CapturedAt,
		Windows:    make([]WindowEntry, len(snap.Windows)),
		Tabs:       make([]TabEntry, len(snap.Tabs)),
	}
	copy(cp.Windows, snap.Windows)
	copy(cp.Tabs, snap.Tabs)
	return cp
}

func paginate[T any](items []T, opts ListOpts) []T {
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]

	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
