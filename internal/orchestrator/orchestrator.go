// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

// Package orchestrator is the session state machine. One goroutine consumes
// a serialized queue of desktop events, capture ticks, tab pushes, and
// presentation commands; every state transition and snapshot write happens
// on that goroutine, so no two transitions for a session ever race.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/deskmux-dev/deskmux/internal/desktop"
	"github.com/deskmux-dev/deskmux/internal/restore"
	"github.com/deskmux-dev/deskmux/internal/store"
	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

const defaultSnapshotInterval = 30 * time.Second

// TabChannel is the bridge surface the orchestrator drives: session state
// mirrored out, tab pushes requested in.
type TabChannel interface {
	SetActiveSession(sessionID string)
	ClearActiveSession()
	RequestTabs(sessionID string) error
}

// Capturer produces window entries grouped by desktop key.
type Capturer interface {
	CaptureAll(ctx context.Context) (map[string][]store.WindowEntry, error)
}

// Planner builds a restore plan from a session's latest snapshot.
type Planner interface {
	Plan(ctx context.Context, sessionID string) (restore.Plan, error)
}

// Executor runs a restore plan best-effort.
type Executor interface {
	Execute(ctx context.Context, plan restore.Plan) []restore.Outcome
}

// Notifier is the presentation sink. The orchestrator holds this reference
// and never exposes internal state any other way. Calls arrive on the
// orchestrator goroutine; implementations must not call back into commands.
type Notifier interface {
	DesktopNeedsNaming(sessionID string)
	SessionListChanged()
	SessionEnded(sessionID string)
	RestoreProgress(sessionID string, outcome restore.Outcome)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) DesktopNeedsNaming(string)               {}
func (NopNotifier) SessionListChanged()                     {}
func (NopNotifier) SessionEnded(string)                     {}
func (NopNotifier) RestoreProgress(string, restore.Outcome) {}

// Config holds orchestrator dependencies and tuning.
type Config struct {
	Store store.Store
	// DesktopEvents is the watcher's event stream.
	DesktopEvents <-chan desktop.Event
	// Desktops and Current seed the topology, normally from
	// Watcher.Topology() after its priming enumeration.
	Desktops []string
	Current  string

	Capturer Capturer
	Tabs     TabChannel
	Planner  Planner
	Executor Executor
	Notifier Notifier

	// SnapshotInterval is the shared capture cadence over all active
	// sessions. Defaults to 30s.
	SnapshotInterval time.Duration
	Logger           *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

type task struct {
	fn    func(ctx context.Context) error
	reply chan error
}

type tabPush struct {
	entries    []store.TabEntry
	receivedAt time.Time
}

// Orchestrator owns the in-memory table of open sessions. All fields below
// the queue are touched only by the run goroutine.
type Orchestrator struct {
	store    store.Store
	events   <-chan desktop.Event
	capturer Capturer
	tabs     TabChannel
	planner  Planner
	executor Executor
	notify   Notifier
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	queue chan task

	sessions     map[string]*store.Session // open sessions by id
	byDesktop    map[string]string         // desktop key -> session id
	knownAtStart map[string]struct{}       // seeded topology, used once by load
	current      string                    // foreground desktop key
	lastHash     map[string]string         // session id -> last window-set hash
	lastTabs     map[string]tabPush        // session id -> most recent tab push

	captureBusy bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates an Orchestrator. Call Start before issuing commands.
func New(cfg Config) *Orchestrator {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	o := &Orchestrator{
		store:     cfg.Store,
		events:    cfg.DesktopEvents,
		capturer:  cfg.Capturer,
		tabs:      cfg.Tabs,
		planner:   cfg.Planner,
		executor:  cfg.Executor,
		notify:    cfg.Notifier,
		interval:  cfg.SnapshotInterval,
		logger:    cfg.Logger.With("component", "orchestrator"),
		now:       cfg.Now,
		queue:     make(chan task, 64),
		sessions:  make(map[string]*store.Session),
		byDesktop: make(map[string]string),
		current:   cfg.Current,
		lastHash:  make(map[string]string),
		lastTabs:  make(map[string]tabPush),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	o.seedTopology(cfg.Desktops)
	return o
}

func (o *Orchestrator) seedTopology(desktops []string) {
	known := make(map[string]struct{}, len(desktops))
	for _, key := range desktops {
		known[key] = struct{}{}
	}
	o.byDesktop = make(map[string]string)
	o.knownAtStart = known
}

// Start loads persisted sessions, reconciles them against the seeded
// topology, and launches the run loop. A store failure here is fatal.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.load(ctx); err != nil {
		return err
	}
	o.announceForeground()
	go o.run(ctx)
	return nil
}

// load pulls open sessions from the store. Desktop keys are boot-scoped, so
// any open session whose desktop no longer exists ended while the daemon
// was down and is marked so now.
func (o *Orchestrator) load(ctx context.Context) error {
	sessions, err := o.store.ListSessions(ctx, store.ListOpts{Limit: 1000})
	if err != nil {
		return dmerr.Wrap(err, dmerr.CodeStoreDatabaseFailure, "loading sessions at startup")
	}

	for _, sess := range sessions {
		if !sess.Open() {
			continue
		}
		if _, exists := o.knownAtStart[sess.DesktopKey]; !exists {
			sess.Status = store.SessionStatusEnded
			sess.EndedAt = o.now()
			if err := o.store.UpdateSession(ctx, sess); err != nil {
				o.logger.Error("marking stale session ended", "session_id", sess.ID, "error", err)
			}
			continue
		}

		o.sessions[sess.ID] = sess
		o.byDesktop[sess.DesktopKey] = sess.ID
		if sess.Status == store.SessionStatusPendingName {
			// The naming prompt was lost with the previous process; re-raise it.
			o.notify.DesktopNeedsNaming(sess.ID)
		}
	}
	return nil
}

// Stop terminates the run loop. Open sessions are marked ended before the
// loop exits; the caller closes the store afterwards.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	<-o.done
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	defer o.shutdown()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	events := o.events
	for {
		select {
		case <-o.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			o.handleDesktopEvent(ctx, ev)
		case <-ticker.C:
			o.startCapture(ctx)
		case t := <-o.queue:
			t.reply <- t.fn(ctx)
		}
	}
}

// shutdown runs on the loop goroutine after the last event. Sessions do not
// survive the daemon: open rows are marked ended so a later start never
// trusts them.
func (o *Orchestrator) shutdown() {
	ctx := context.Background()
	now := o.now()
	for _, sess := range o.sessions {
		if !sess.Open() {
			continue
		}
		sess.Status = store.SessionStatusEnded
		sess.EndedAt = now
		if err := o.store.UpdateSession(ctx, sess); err != nil {
			o.logger.Error("marking session ended at shutdown", "session_id", sess.ID, "error", err)
		}
	}
	if o.tabs != nil {
		o.tabs.ClearActiveSession()
	}
}

// do runs fn on the orchestrator goroutine and waits for its result.
func (o *Orchestrator) do(fn func(ctx context.Context) error) error {
	t := task{fn: fn, reply: make(chan error, 1)}
	select {
	case o.queue <- t:
	case <-o.done:
		return dmerr.New(dmerr.CodeOrchestratorStopped, "orchestrator is stopped")
	}
	select {
	case err := <-t.reply:
		return err
	case <-o.done:
		return dmerr.New(dmerr.CodeOrchestratorStopped, "orchestrator is stopped")
	}
}
