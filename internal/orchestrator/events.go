// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deskmux-dev/deskmux/internal/desktop"
	"github.com/deskmux-dev/deskmux/internal/store"
)

func (o *Orchestrator) handleDesktopEvent(ctx context.Context, ev desktop.Event) {
	switch ev.Kind {
	case desktop.EventCreated:
		o.handleDesktopCreated(ctx, ev)
	case desktop.EventRemoved:
		o.handleDesktopRemoved(ctx, ev)
	case desktop.EventSwitched:
		o.current = ev.NewKey
		o.announceForeground()
	}
}

func (o *Orchestrator) handleDesktopCreated(ctx context.Context, ev desktop.Event) {
	if _, exists := o.byDesktop[ev.Key]; exists {
		return
	}

	sess := &store.Session{
		ID:         uuid.NewString(),
		DesktopKey: ev.Key,
		Status:     store.SessionStatusPendingName,
		CreatedAt:  o.now(),
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		o.logger.Error("creating session for new desktop", "desktop_key", ev.Key, "error", err)
		return
	}
	o.sessions[sess.ID] = sess
	o.byDesktop[ev.Key] = sess.ID

	if ev.BecameForeground {
		o.current = ev.Key
		o.announceForeground()
	}
	o.logger.Info("desktop created, session pending name", "session_id", sess.ID, "desktop_key", ev.Key)
	o.notify.DesktopNeedsNaming(sess.ID)
	o.notify.SessionListChanged()
}

func (o *Orchestrator) handleDesktopRemoved(ctx context.Context, ev desktop.Event) {
	wasCurrent := ev.Key == o.current
	if wasCurrent {
		o.current = ""
	}

	id, ok := o.byDesktop[ev.Key]
	if !ok {
		if wasCurrent {
			o.announceForeground()
		}
		return
	}
	sess := o.sessions[id]

	switch sess.Status {
	case store.SessionStatusPendingName:
		// Never named: discard the row entirely.
		if err := o.store.DeleteSession(ctx, id); err != nil {
			o.logger.Error("discarding pending session", "session_id", id, "error", err)
		}
		o.dropSession(sess)
		o.logger.Info("pending session discarded with its desktop", "session_id", id)

	case store.SessionStatusActive:
		sess.Status = store.SessionStatusEnded
		sess.EndedAt = o.now()
		if err := o.store.UpdateSession(ctx, sess); err != nil {
			o.logger.Error("ending session", "session_id", id, "error", err)
		}
		o.dropSession(sess)
		o.logger.Info("session ended with its desktop", "session_id", id, "name", sess.Name)
		o.notify.SessionEnded(id)
	}

	if wasCurrent {
		o.announceForeground()
	}
	o.notify.SessionListChanged()
}

func (o *Orchestrator) dropSession(sess *store.Session) {
	delete(o.sessions, sess.ID)
	delete(o.byDesktop, sess.DesktopKey)
	delete(o.lastHash, sess.ID)
	delete(o.lastTabs, sess.ID)
}

// announceForeground mirrors the foreground session to the extension. The
// extension has no other way to learn which session tab pushes belong to.
func (o *Orchestrator) announceForeground() {
	if o.tabs == nil {
		return
	}
	if id, ok := o.byDesktop[o.current]; ok {
		if sess := o.sessions[id]; sess != nil && sess.Status == store.SessionStatusActive {
			o.tabs.SetActiveSession(id)
			return
		}
	}
	o.tabs.ClearActiveSession()
}

// HandleTabs accepts one full-replacement tab set from the bridge. Safe to
// call from any goroutine.
func (o *Orchestrator) HandleTabs(sessionID string, tabs []store.TabEntry, _ time.Time) {
	err := o.do(func(context.Context) error {
		sess, ok := o.sessions[sessionID]
		if !ok || sess.Status != store.SessionStatusActive {
			// Pushes for unknown or inactive sessions are stale by definition.
			return nil
		}
		o.lastTabs[sessionID] = tabPush{entries: tabs, receivedAt: o.now()}
		return nil
	})
	if err != nil {
		o.logger.Debug("tab push dropped", "session_id", sessionID, "error", err)
	}
}

// startCapture kicks one capture pass over all active sessions. Enumeration
// runs off the loop goroutine; the writes come back as a queue task.
func (o *Orchestrator) startCapture(ctx context.Context) {
	if o.captureBusy {
		o.logger.Debug("capture still in flight, skipping tick")
		return
	}

	var active []string
	for id, sess := range o.sessions {
		if sess.Status == store.SessionStatusActive {
			active = append(active, id)
		}
	}
	if len(active) == 0 {
		return
	}

	// Ask for fresh tabs now; the pushes land as queue events and the next
	// write bundles the most recent set.
	if o.tabs != nil {
		for _, id := range active {
			if err := o.tabs.RequestTabs(id); err != nil {
				o.logger.Debug("tab request deferred", "session_id", id, "error", err)
			}
		}
	}

	o.captureBusy = true
	go func() {
		windows, err := o.capturer.CaptureAll(ctx)
		doErr := o.do(func(ctx context.Context) error {
			o.captureBusy = false
			if err != nil {
				// Soft: skip this tick, stay on schedule.
				o.logger.Warn("window capture failed", "error", err)
				return nil
			}
			o.writeSnapshots(ctx, windows)
			return nil
		})
		if doErr != nil {
			o.logger.Debug("capture result dropped", "error", doErr)
		}
	}()
}

func (o *Orchestrator) writeSnapshots(ctx context.Context, byDesktop map[string][]store.WindowEntry) {
	now := o.now()
	for id, sess := range o.sessions {
		if sess.Status != store.SessionStatusActive {
			continue
		}
		if err := o.writeSnapshot(ctx, sess, byDesktop[sess.DesktopKey], now); err != nil {
			o.logger.Warn("snapshot write failed", "session_id", id, "error", err)
		}
	}
}

// writeSnapshot persists one session's snapshot. Identical consecutive
// window sets skip the write but still advance LastSnapshotAt, so "nothing
// changed" stays observable without unbounded storage growth.
func (o *Orchestrator) writeSnapshot(ctx context.Context, sess *store.Session, windows []store.WindowEntry, now time.Time) error {
	hash := windowSetHash(windows)
	if hash == o.lastHash[sess.ID] {
		sess.LastSnapshotAt = now
		return o.store.UpdateSession(ctx, sess)
	}

	snap := &store.Snapshot{
		SessionID:  sess.ID,
		CapturedAt: now,
		Windows:    windows,
		Tabs:       o.freshTabs(sess.ID, now),
	}
	if err := o.store.WriteSnapshot(ctx, snap); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// The session left active state between tick and write.
			return nil
		}
		return err
	}
	o.lastHash[sess.ID] = hash
	sess.LastSnapshotAt = now
	return nil
}

// freshTabs returns the last pushed tab set when it is at most one snapshot
// interval old. A downed bridge means no push: the snapshot simply carries
// an empty tab set.
func (o *Orchestrator) freshTabs(sessionID string, now time.Time) []store.TabEntry {
	push, ok := o.lastTabs[sessionID]
	if !ok || now.Sub(push.receivedAt) > o.interval {
		return nil
	}
	return push.entries
}

// windowSetHash fingerprints a window set by process, title, and path.
// Order-insensitive: enumeration order follows z-order and changes on every
// focus change.
func windowSetHash(windows []store.WindowEntry) string {
	lines := make([]string, 0, len(windows))
	for _, win := range windows {
		lines = append(lines, fmt.Sprintf("%s\x00%s\x00%s", win.ProcessName, win.Title, win.ExecutablePath))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
