// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package bridge

import (
	"strings"
	"time"

	"github.com/deskmux-dev/deskmux/internal/store"
	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

// MessageType enumerates the wire protocol message kinds. The protocol is
// one JSON object per websocket message, shared with the browser extension.
type MessageType string

const (
	// TypeGetActiveSession is sent by the extension to ask which session
	// tab pushes should be attributed to.
	TypeGetActiveSession MessageType = "get_active_session"
	// TypeSessionActive and TypeSessionNone are the core's answers, also
	// pushed unsolicited on every activation, deactivation, and reconnect.
	TypeSessionActive MessageType = "session_active"
	TypeSessionNone   MessageType = "session_none"
	// TypeRequestTabs asks the extension for an immediate tabs push.
	TypeRequestTabs MessageType = "request_tabs"
	// TypeTabsSnapshot carries a full-replacement tab set, never a delta.
	TypeTabsSnapshot MessageType = "tabs_snapshot"
	// TypeSetActiveSession and TypeForceSnapshot are extension-side user
	// commands forwarded to the orchestrator.
	TypeSetActiveSession MessageType = "set_active_session"
	TypeForceSnapshot    MessageType = "force_snapshot"
)

// Tab mirrors the extension's tab object. Field names follow the browser
// API casing the extension serialises.
type Tab struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	FavIconURL string `json:"favIconUrl"`
	WindowID   int64  `json:"windowId"`
	Active     bool   `json:"active"`
	Pinned     bool   `json:"pinned"`
}

// Message is one protocol frame.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Tabs      []Tab       `json:"tabs,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// knownTypes guards against protocol drift from a newer or malicious
// extension build.
var knownTypes = map[MessageType]struct{}{
	TypeGetActiveSession: {},
	TypeSessionActive:    {},
	TypeSessionNone:      {},
	TypeRequestTabs:      {},
	TypeTabsSnapshot:     {},
	TypeSetActiveSession: {},
	TypeForceSnapshot:    {},
}

// Validate checks an inbound frame before dispatch.
func (m *Message) Validate() error {
	if _, ok := knownTypes[m.Type]; !ok {
		return dmerr.Errorf(dmerr.CodeBridgeMessageInvalid, "unknown message type %q", m.Type)
	}
	if m.Type == TypeTabsSnapshot && m.SessionID == "" {
		return dmerr.New(dmerr.CodeBridgeMessageInvalid, "tabs_snapshot without session_id")
	}
	return nil
}

// CapturedAt parses the frame timestamp, falling back to now when the
// extension omitted or mangled it.
func (m *Message) CapturedAt(now time.Time) time.Time {
	if m.Timestamp == "" {
		return now
	}
	t, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		return now
	}
	return t
}

// internalSchemes are browser-internal URL prefixes excluded from snapshots.
var internalSchemes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"devtools://",
	"about:",
	"data:",
}

// SanitizeTabs drops tabs that cannot be restored: empty URLs and the
// browser's internal pages.
func SanitizeTabs(tabs []Tab) []Tab {
	out := make([]Tab, 0, len(tabs))
	for _, tab := range tabs {
		if tab.URL == "" || isInternalURL(tab.URL) {
			continue
		}
		out = append(out, tab)
	}
	return out
}

func isInternalURL(url string) bool {
	for _, scheme := range internalSchemes {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

// TabEntries converts sanitized wire tabs into store entries.
func TabEntries(tabs []Tab) []store.TabEntry {
	entries := make([]store.TabEntry, 0, len(tabs))
	for _, tab := range tabs {
		entries = append(entries, store.TabEntry{
			URL:         tab.URL,
			Title:       tab.Title,
			FaviconURL:  tab.FavIconURL,
			Pinned:      tab.Pinned,
			WindowGroup: tab.WindowID,
		})
	}
	return entries
}
