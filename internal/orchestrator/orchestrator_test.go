// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmux-dev/deskmux/internal/desktop"
	"github.com/deskmux-dev/deskmux/internal/orchestrator"
	"github.com/deskmux-dev/deskmux/internal/restore"
	"github.com/deskmux-dev/deskmux/internal/store"
	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

const waitFor = 2 * time.Second

type fakeTabs struct {
	mu        sync.Mutex
	announced []string // session ids; "" records a clear
	requests  []string
	reqErr    error
}

func (f *fakeTabs) SetActiveSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, sessionID)
}

func (f *fakeTabs) ClearActiveSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, "")
}

func (f *fakeTabs) RequestTabs(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, sessionID)
	return f.reqErr
}

func (f *fakeTabs) lastAnnounced() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.announced) == 0 {
		return "", false
	}
	return f.announced[len(f.announced)-1], true
}

type fakeCapturer struct {
	mu      sync.Mutex
	windows map[string][]store.WindowEntry
	err     error
	delay   time.Duration // simulates a slow OS enumeration
}

func (f *fakeCapturer) CaptureAll(context.Context) (map[string][]store.WindowEntry, error) {
	f.mu.Lock()
	windows, err, delay := f.windows, f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return windows, err
}

func (f *fakeCapturer) set(windows map[string][]store.WindowEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = windows
}

type recordingNotifier struct {
	mu          sync.Mutex
	naming      []string
	ended       []string
	listChanged int
	progress    []restore.Outcome
}

func (r *recordingNotifier) DesktopNeedsNaming(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.naming = append(r.naming, sessionID)
}

func (r *recordingNotifier) SessionListChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listChanged++
}

func (r *recordingNotifier) SessionEnded(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, sessionID)
}

func (r *recordingNotifier) RestoreProgress(_ string, outcome restore.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, outcome)
}

func (r *recordingNotifier) namingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.naming...)
}

func (r *recordingNotifier) endedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended...)
}

// steppingClock returns a strictly increasing timestamp per call so
// LastSnapshotAt advancement is observable.
type steppingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type harness struct {
	st       *store.Memory
	events   chan desktop.Event
	tabs     *fakeTabs
	capturer *fakeCapturer
	notifier *recordingNotifier
	orch     *orchestrator.Orchestrator
}

type launchFailure struct{}

func (launchFailure) Launch(_ context.Context, _, name string, _ ...string) error {
	return dmerr.Errorf(dmerr.CodeRestoreLaunchFailure, "no such executable %s", name)
}

// slowLauncher simulates a launch that blocks on process I/O.
type slowLauncher struct {
	delay time.Duration
}

func (l slowLauncher) Launch(context.Context, string, string, ...string) error {
	time.Sleep(l.delay)
	return nil
}

func newHarness(t *testing.T, cfg orchestrator.Config) *harness {
	t.Helper()

	h := &harness{
		st:       store.NewMemory(),
		events:   make(chan desktop.Event, 8),
		tabs:     &fakeTabs{},
		capturer: &fakeCapturer{},
		notifier: &recordingNotifier{},
	}
	if cfg.Store == nil {
		cfg.Store = h.st
	} else {
		h.st = cfg.Store.(*store.Memory)
	}
	cfg.DesktopEvents = h.events
	cfg.Capturer = h.capturer
	cfg.Tabs = h.tabs
	cfg.Notifier = h.notifier
	if cfg.Planner == nil {
		cfg.Planner = restore.NewPlanner(h.st)
	}
	if cfg.Executor == nil {
		cfg.Executor = restore.NewExecutor(launchFailure{}, nil)
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = time.Hour // ticks never fire; tests force snapshots
	}
	if cfg.Now == nil {
		clock := &steppingClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
		cfg.Now = clock.Now
	}

	h.orch = orchestrator.New(cfg)
	require.NoError(t, h.orch.Start(context.Background()))
	t.Cleanup(h.orch.Stop)
	return h
}

// createSession drives a desktop-created event through and returns the new
// session id.
func (h *harness) createSession(t *testing.T, key string, foreground bool) string {
	t.Helper()
	seen := len(h.notifier.namingIDs())
	h.events <- desktop.Event{Kind: desktop.EventCreated, Key: key, BecameForeground: foreground}
	require.Eventually(t, func() bool {
		return len(h.notifier.namingIDs()) > seen
	}, waitFor, 5*time.Millisecond)
	ids := h.notifier.namingIDs()
	return ids[len(ids)-1]
}

func (h *harness) activateSession(t *testing.T, key, name string) string {
	t.Helper()
	id := h.createSession(t, key, true)
	require.NoError(t, h.orch.ConfirmName(id, name))
	return id
}

func TestDesktopCreatedStartsPendingSession(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})

	id := h.createSession(t, "d1", true)
	sess, err := h.st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusPendingName, sess.Status)
	assert.Equal(t, "d1", sess.DesktopKey)
	assert.Empty(t, sess.Name)

	// A pending session is never announced as active.
	last, ok := h.tabs.lastAnnounced()
	require.True(t, ok)
	assert.Empty(t, last)
}

func TestConfirmNameActivates(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.createSession(t, "d1", true)

	require.NoError(t, h.orch.ConfirmName(id, "Lab3"))

	sess, err := h.st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusActive, sess.Status)
	assert.Equal(t, "Lab3", sess.Name)

	last, ok := h.tabs.lastAnnounced()
	require.True(t, ok)
	assert.Equal(t, id, last, "the foreground session is mirrored to the extension")
}

func TestConfirmNameIsIdempotentConflict(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")

	err := h.orch.ConfirmName(id, "Other")
	require.Error(t, err)
	assert.True(t, dmerr.IsConflict(err))

	sess, err := h.st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Lab3", sess.Name, "the first confirmation wins")
}

func TestConfirmNameValidation(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.createSession(t, "d1", false)

	err := h.orch.ConfirmName(id, "   ")
	require.Error(t, err)
	assert.True(t, dmerr.IsInvalidInput(err))

	err = h.orch.ConfirmName("missing", "Lab3")
	require.Error(t, err)
	assert.True(t, dmerr.IsNotFound(err))
	_ = id
}

func TestCancelNamingDiscardsRow(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.createSession(t, "d1", false)

	require.NoError(t, h.orch.CancelNaming(id))
	_, err := h.st.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = h.orch.CancelNaming(id)
	require.Error(t, err)
	assert.True(t, dmerr.IsNotFound(err))
}

func TestCancelNamingRejectsActiveSession(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")

	err := h.orch.CancelNaming(id)
	require.Error(t, err)
	assert.True(t, dmerr.IsConflict(err))
}

func TestDesktopRemovedEndsActiveSession(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")

	h.events <- desktop.Event{Kind: desktop.EventRemoved, Key: "d1"}
	require.Eventually(t, func() bool {
		return len(h.notifier.endedIDs()) == 1
	}, waitFor, 5*time.Millisecond)

	sess, err := h.st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusEnded, sess.Status)
	assert.False(t, sess.EndedAt.IsZero())

	// It was foreground: the extension hears session_none.
	last, ok := h.tabs.lastAnnounced()
	require.True(t, ok)
	assert.Empty(t, last)
}

func TestDesktopRemovedDiscardsPendingSession(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.createSession(t, "d1", false)

	h.events <- desktop.Event{Kind: desktop.EventRemoved, Key: "d1"}
	require.Eventually(t, func() bool {
		_, err := h.st.GetSession(context.Background(), id)
		return err != nil
	}, waitFor, 5*time.Millisecond)
	assert.Empty(t, h.notifier.endedIDs(), "a discarded pending session never 'ends'")
}

func TestDesktopSwitchReannouncesForeground(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id1 := h.activateSession(t, "d1", "One")
	id2 := h.createSession(t, "d2", false)
	require.NoError(t, h.orch.ConfirmName(id2, "Two"))

	h.events <- desktop.Event{Kind: desktop.EventSwitched, OldKey: "d1", NewKey: "d2"}
	require.Eventually(t, func() bool {
		last, ok := h.tabs.lastAnnounced()
		return ok && last == id2
	}, waitFor, 5*time.Millisecond)

	h.events <- desktop.Event{Kind: desktop.EventSwitched, OldKey: "d2", NewKey: "d1"}
	require.Eventually(t, func() bool {
		last, _ := h.tabs.lastAnnounced()
		return last == id1
	}, waitFor, 5*time.Millisecond)
}

func TestForceSnapshotPersistsWindowsAndTabs(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")

	h.capturer.set(map[string][]store.WindowEntry{
		"d1": {
			{ProcessName: "code", Title: "engine.go — deskmux", CommandHint: "deskmux"},
			{ProcessName: "slack", Title: "Slack", ExecutablePath: `C:\slack.exe`},
		},
	})
	h.orch.HandleTabs(id, []store.TabEntry{
		{URL: "https://a.example", WindowGroup: 1},
		{URL: "https://b.example", WindowGroup: 1},
		{URL: "https://c.example", WindowGroup: 2},
	}, time.Now())

	require.NoError(t, h.orch.ForceSnapshot(id))

	snap, err := h.st.LatestSnapshot(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, snap.Windows, 2)
	assert.Len(t, snap.Tabs, 3)

	sess, err := h.st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, sess.LastSnapshotAt.IsZero())
}

func TestForceSnapshotRequiresActiveSession(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.createSession(t, "d1", false)

	err := h.orch.ForceSnapshot(id)
	require.Error(t, err)
	assert.True(t, dmerr.IsConflict(err))

	err = h.orch.ForceSnapshot("missing")
	require.Error(t, err)
	assert.True(t, dmerr.IsNotFound(err))
}

func TestForceSnapshotDoesNotStallEventQueue(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")

	h.capturer.mu.Lock()
	h.capturer.delay = 500 * time.Millisecond
	h.capturer.windows = map[string][]store.WindowEntry{"d1": {{ProcessName: "code", Title: "engine.go"}}}
	h.capturer.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- h.orch.ForceSnapshot(id) }()

	// While the enumeration is still sleeping, desktop events must be
	// handled on their normal schedule.
	start := time.Now()
	h.createSession(t, "d2", false)
	assert.Less(t, time.Since(start), 250*time.Millisecond,
		"desktop events are not queued behind a slow capture")

	require.NoError(t, <-done)
	snap, err := h.st.LatestSnapshot(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, snap.Windows, 1)
}

func TestRequestRestoreDoesNotStallEventQueue(t *testing.T) {
	h := newHarness(t, orchestrator.Config{
		Executor: restore.NewExecutor(slowLauncher{delay: 500 * time.Millisecond}, nil),
	})
	id := h.activateSession(t, "d1", "Lab3")
	h.capturer.set(map[string][]store.WindowEntry{
		"d1": {{ProcessName: "slack", Title: "Slack", ExecutablePath: `C:\slack.exe`}},
	})
	require.NoError(t, h.orch.ForceSnapshot(id))

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.RequestRestore(id)
		done <- err
	}()

	start := time.Now()
	h.createSession(t, "d2", false)
	assert.Less(t, time.Since(start), 250*time.Millisecond,
		"desktop events are not queued behind a slow restore")

	require.NoError(t, <-done)
}

func TestSnapshotWithBridgeDownHasEmptyTabs(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	h.tabs.reqErr = dmerr.New(dmerr.CodeBridgeChannelDown, "extension channel is down")
	id := h.activateSession(t, "d1", "Lab3")

	h.capturer.set(map[string][]store.WindowEntry{
		"d1": {{ProcessName: "code", Title: "Welcome"}},
	})
	require.NoError(t, h.orch.ForceSnapshot(id), "a downed bridge is soft degradation")

	snap, err := h.st.LatestSnapshot(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, snap.Windows, 1)
	assert.Empty(t, snap.Tabs)
}

func TestIdenticalCapturesDeduplicate(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")

	code := store.WindowEntry{ProcessName: "code", Title: "engine.go", ExecutablePath: `C:\code.exe`}
	chrome := store.WindowEntry{ProcessName: "chrome", Title: "Docs", ExecutablePath: `C:\chrome.exe`}
	h.capturer.set(map[string][]store.WindowEntry{"d1": {code, chrome}})

	require.NoError(t, h.orch.ForceSnapshot(id))
	first, err := h.st.GetSession(context.Background(), id)
	require.NoError(t, err)

	// Same set again, then the same set in a different z-order: both dedup.
	require.NoError(t, h.orch.ForceSnapshot(id))
	h.capturer.set(map[string][]store.WindowEntry{"d1": {chrome, code}})
	require.NoError(t, h.orch.ForceSnapshot(id))

	snaps, err := h.st.ListSnapshots(context.Background(), id, store.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "an identical window set is not stored twice")

	second, err := h.st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, second.LastSnapshotAt.After(first.LastSnapshotAt),
		"LastSnapshotAt still advances on deduplicated ticks")

	slack := store.WindowEntry{ProcessName: "slack", Title: "Slack", ExecutablePath: `C:\slack.exe`}
	h.capturer.set(map[string][]store.WindowEntry{"d1": {code, chrome, slack}})
	require.NoError(t, h.orch.ForceSnapshot(id))
	snaps, err = h.st.ListSnapshots(context.Background(), id, store.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, snaps, 2, "a changed window set is stored")
}

func TestActiveSessionsNeverExceedDesktops(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	h.activateSession(t, "d1", "One")
	id2 := h.activateSession(t, "d2", "Two")

	h.events <- desktop.Event{Kind: desktop.EventRemoved, Key: "d1"}
	require.Eventually(t, func() bool {
		return len(h.notifier.endedIDs()) == 1
	}, waitFor, 5*time.Millisecond)

	sessions, err := h.st.ListSessions(context.Background(), store.ListOpts{})
	require.NoError(t, err)
	active := 0
	for _, sess := range sessions {
		if sess.Status == store.SessionStatusActive {
			active++
			assert.Equal(t, id2, sess.ID)
		}
	}
	assert.Equal(t, 1, active, "one open desktop, one active session")
}

func TestRequestRestoreReportsFailedActions(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")

	h.capturer.set(map[string][]store.WindowEntry{
		"d1": {{ProcessName: "slack", Title: "Slack", ExecutablePath: `C:\gone\slack.exe`}},
	})
	require.NoError(t, h.orch.ForceSnapshot(id))

	outcomes, err := h.orch.RequestRestore(id)
	require.NoError(t, err, "a failed launch is an outcome, not an error")
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.NotEmpty(t, outcomes[0].Error)
	assert.Len(t, h.notifier.progress, 1)
}

func TestRequestRestoreWithoutSnapshot(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")

	_, err := h.orch.RequestRestore(id)
	require.Error(t, err)
	assert.Equal(t, dmerr.CodeRestorePlanNotFound, dmerr.CodeOf(err))
}

func TestDeleteSessionRemovesHistory(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")
	h.capturer.set(map[string][]store.WindowEntry{"d1": {{ProcessName: "code", Title: "x"}}})
	require.NoError(t, h.orch.ForceSnapshot(id))

	require.NoError(t, h.orch.DeleteSession(id))
	_, err := h.st.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = h.orch.DeleteSession(id)
	require.Error(t, err)
	assert.True(t, dmerr.IsNotFound(err))
}

func TestStartReconcilesPersistedSessions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID: "kept", Name: "Kept", DesktopKey: "d1",
		Status: store.SessionStatusActive, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID: "stale", Name: "Stale", DesktopKey: "gone",
		Status: store.SessionStatusActive, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID: "prompt", DesktopKey: "d2",
		Status: store.SessionStatusPendingName, CreatedAt: time.Now().UTC(),
	}))

	h := newHarness(t, orchestrator.Config{
		Store:    st,
		Desktops: []string{"d1", "d2"},
		Current:  "d1",
	})

	kept, err := st.GetSession(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusActive, kept.Status)

	stale, err := st.GetSession(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusEnded, stale.Status, "desktop keys do not survive a reboot")
	assert.False(t, stale.EndedAt.IsZero())

	assert.Equal(t, []string{"prompt"}, h.notifier.namingIDs(), "the lost naming prompt is re-raised")

	last, ok := h.tabs.lastAnnounced()
	require.True(t, ok)
	assert.Equal(t, "kept", last, "the foreground session is announced at startup")
}

func TestStopEndsOpenSessions(t *testing.T) {
	h := newHarness(t, orchestrator.Config{})
	id := h.activateSession(t, "d1", "Lab3")

	h.orch.Stop()

	sess, err := h.st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusEnded, sess.Status)

	err = h.orch.ConfirmName(id, "Again")
	require.Error(t, err)
	assert.Equal(t, dmerr.CodeOrchestratorStopped, dmerr.CodeOf(err))
}

func TestCaptureTickerSnapshotsActiveSessions(t *testing.T) {
	h := newHarness(t, orchestrator.Config{SnapshotInterval: 20 * time.Millisecond})
	id := h.activateSession(t, "d1", "Lab3")
	h.capturer.set(map[string][]store.WindowEntry{
		"d1": {{ProcessName: "code", Title: "engine.go"}},
	})

	require.Eventually(t, func() bool {
		snap, err := h.st.LatestSnapshot(context.Background(), id)
		return err == nil && len(snap.Windows) == 1
	}, waitFor, 5*time.Millisecond, "the shared ticker eventually persists a snapshot")

	h.tabs.mu.Lock()
	requested := len(h.tabs.requests) > 0
	h.tabs.mu.Unlock()
	assert.True(t, requested, "each tick asks the extension for fresh tabs")
}
