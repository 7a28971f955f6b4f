// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package store

import "time"

// SessionStatus represents the lifecycle state of a desktop session.
type SessionStatus string

const (
	// SessionStatusPendingName is the entry state: the desktop exists but the
	// user has not yet confirmed a name. Pending sessions have no snapshots.
	SessionStatusPendingName SessionStatus = "pending_name"
	SessionStatusActive      SessionStatus = "active"
	SessionStatusEnded       SessionStatus = "ended"
)

// Session binds one OS virtual desktop to a named unit of work for one boot
// lifetime. DesktopKey is opaque and only valid until the next reboot; a
// desktop reusing the same OS identifier after reboot produces a new row.
type Session struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	DesktopKey string        `json:"desktop_key"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	// EndedAt is zero while the session is open; LastSnapshotAt is zero until
	// the first snapshot.
	EndedAt        time.Time `json:"ended_at,omitzero"`
	LastSnapshotAt time.Time `json:"last_snapshot_at,omitzero"`
}

// Open reports whether the session still tracks a live desktop.
func (s *Session) Open() bool {
	return s.Status == SessionStatusPendingName || s.Status == SessionStatusActive
}

// WindowEntry is a value snapshot of one top-level window. OS window handles
// are never persisted: they are only valid for the lifetime of the process,
// so identity across snapshots is best-effort (process + title + path).
type WindowEntry struct {
	ProcessName    string `json:"process_name"`
	ExecutablePath string `json:"executable_path"`
	Title          string `json:"title"`
	Class          string `json:"class,omitempty"`
	// CommandHint carries best-effort launch context: the working directory
	// for terminals, the workspace folder for editors. Empty when unknown.
	CommandHint string `json:"command_hint,omitempty"`
	Minimized   bool   `json:"minimized,omitempty"`
}

// TabEntry is a value snapshot of one browser tab.
type TabEntry struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	FaviconURL string `json:"favicon_url,omitempty"`
	Pinned     bool   `json:"pinned,omitempty"`
	// WindowGroup is the browser-side window the tab belongs to, used to
	// group tabs into one browser-window launch on restore.
	WindowGroup int64 `json:"window_group"`
}

// Snapshot is one consistent capture of a session's windows and tabs,
// identified by (SessionID, CapturedAt). Window and tab entries captured in
// the same tick are written together or not at all.
type Snapshot struct {
	SessionID  string        `json:"session_id"`
	CapturedAt time.Time     `json:"captured_at"`
	Windows    []WindowEntry `json:"windows"`
	Tabs       []TabEntry    `json:"tabs"`
}

// SnapshotInfo summarises one stored snapshot for listings.
type SnapshotInfo struct {
	SessionID   string    `json:"session_id"`
	CapturedAt  time.Time `json:"captured_at"`
	WindowCount int       `json:"window_count"`
	TabCount    int       `json:"tab_count"`
}

// ListOpts provides pagination parameters for list operations.
type ListOpts struct {
	Limit  int
	Offset int
}
