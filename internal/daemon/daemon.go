// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

// Package daemon wires the subsystems together and runs them until the
// context is cancelled.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/deskmux-dev/deskmux/internal/bridge"
	"github.com/deskmux-dev/deskmux/internal/capture"
	"github.com/deskmux-dev/deskmux/internal/config"
	"github.com/deskmux-dev/deskmux/internal/desktop"
	"github.com/deskmux-dev/deskmux/internal/orchestrator"
	"github.com/deskmux-dev/deskmux/internal/restore"
	"github.com/deskmux-dev/deskmux/internal/server"
	"github.com/deskmux-dev/deskmux/internal/store"
	"github.com/deskmux-dev/deskmux/internal/store/sqlite"
)

// selfProcess is the daemon's own process name, excluded from captures.
const selfProcess = "deskmux"

// slogNotifier surfaces orchestrator notifications in the log. The control
// API is polling-based, so the log is the push channel.
type slogNotifier struct {
	logger *slog.Logger
}

func (n slogNotifier) DesktopNeedsNaming(sessionID string) {
	n.logger.Info("new desktop needs a session name", "session_id", sessionID)
}

func (n slogNotifier) SessionListChanged() {
	n.logger.Debug("session list changed")
}

func (n slogNotifier) SessionEnded(sessionID string) {
	n.logger.Info("session ended", "session_id", sessionID)
}

func (n slogNotifier) RestoreProgress(sessionID string, outcome restore.Outcome) {
	if outcome.OK {
		n.logger.Info("restore action launched", "session_id", sessionID, "action", outcome.Action.Describe())
		return
	}
	n.logger.Warn("restore action failed", "session_id", sessionID,
		"action", outcome.Action.Describe(), "error", outcome.Error)
}

// Run starts every subsystem and blocks until ctx is cancelled or the
// control server fails. A store open failure is the only fatal startup
// condition; producers degrade softly once running.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	enum, err := desktop.NewPlatformEnumerator()
	if err != nil {
		return err
	}
	source, err := capture.NewPlatformSource()
	if err != nil {
		return err
	}

	watcher := desktop.NewWatcher(desktop.Config{
		Enumerator:   enum,
		PollInterval: cfg.Watcher.PollInterval,
		FailureGrace: cfg.Watcher.FailureGrace,
		Logger:       logger,
	})
	engine := capture.NewEngine(source, selfProcess, logger)

	// The bridge callbacks close over the orchestrator; they only fire
	// after both are started.
	var orch *orchestrator.Orchestrator
	br, err := bridge.New(bridge.Config{
		URL:      cfg.Bridge.Endpoint,
		RetryCap: cfg.Bridge.RetryCap,
		Logger:   logger,
		OnTabs: func(sessionID string, tabs []store.TabEntry, capturedAt time.Time) {
			orch.HandleTabs(sessionID, tabs, capturedAt)
		},
		OnCommand: func(msg bridge.Message) {
			switch msg.Type {
			case bridge.TypeForceSnapshot:
				if err := orch.ForceSnapshot(msg.SessionID); err != nil {
					logger.Warn("extension snapshot request rejected",
						"session_id", msg.SessionID, "error", err)
				}
			case bridge.TypeSetActiveSession:
				// Attribution follows the foreground desktop; the extension
				// cannot override it.
				logger.Debug("ignoring extension session override", "session_id", msg.SessionID)
			}
		},
	})
	if err != nil {
		return err
	}

	watcher.Start(ctx)
	desktops, current := watcher.Topology()

	orch = orchestrator.New(orchestrator.Config{
		Store:            st,
		DesktopEvents:    watcher.Events(),
		Desktops:         desktops,
		Current:          current,
		Capturer:         engine,
		Tabs:             br,
		Planner:          restore.NewPlanner(st),
		Executor:         restore.NewExecutor(restore.ExecLauncher{}, logger, restore.WithBrowser(cfg.Restore.Browser)),
		Notifier:         slogNotifier{logger: logger.With("component", "notify")},
		SnapshotInterval: cfg.Capture.SnapshotInterval,
		Logger:           logger,
	})
	if err := orch.Start(ctx); err != nil {
		watcher.Stop()
		return err
	}
	br.Start(ctx)

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Control.Listen,
		CORSOrigins: cfg.Control.CORSOrigins,
		Logger:      logger,
	}, st, orch)
	if err != nil {
		watcher.Stop()
		br.Stop()
		orch.Stop()
		return err
	}

	srvCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start(srvCtx) }()

	logger.Info("deskmux daemon running",
		"control", cfg.Control.Listen,
		"bridge", cfg.Bridge.Endpoint,
		"storage", cfg.Storage.Path,
		"snapshot_interval", cfg.Capture.SnapshotInterval)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		logger.Error("control API exited", "error", runErr)
	}

	// Producers first so no new events arrive, then the orchestrator (which
	// marks open sessions ended), then the server, and the store last via
	// the deferred Close.
	watcher.Stop()
	br.Stop()
	orch.Stop()
	cancelServer()
	if runErr == nil {
		runErr = <-serverErr
	}
	return runErr
}
