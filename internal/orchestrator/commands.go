// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/deskmux-dev/deskmux/internal/restore"
	"github.com/deskmux-dev/deskmux/internal/store"
	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

// ConfirmName names a pending session and activates it. Confirming an
// already-active session is a conflict no-op, which makes the first
// confirmation the only one that ever takes effect.
func (o *Orchestrator) ConfirmName(sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return dmerr.New(dmerr.CodeOrchestratorInvalidInput, "session name must not be empty",
			dmerr.FieldSessionID(sessionID))
	}

	return o.do(func(ctx context.Context) error {
		sess, ok := o.sessions[sessionID]
		if !ok {
			return dmerr.Errorf(dmerr.CodeOrchestratorSessionNotFound, "no open session %s", sessionID)
		}
		if sess.Status != store.SessionStatusPendingName {
			return dmerr.Errorf(dmerr.CodeOrchestratorTransitionConflict,
				"session %s is %s, not pending a name", sessionID, sess.Status)
		}

		sess.Name = name
		sess.Status = store.SessionStatusActive
		if err := o.store.UpdateSession(ctx, sess); err != nil {
			// Roll the in-memory state back so a retry is possible.
			sess.Name = ""
			sess.Status = store.SessionStatusPendingName
			return dmerr.Wrapf(err, dmerr.CodeStoreDatabaseFailure, "activating session %s", sessionID)
		}

		o.logger.Info("session activated", "session_id", sessionID, "name", name)
		if o.current == sess.DesktopKey {
			o.announceForeground()
		}
		o.notify.SessionListChanged()
		return nil
	})
}

// CancelNaming discards a pending session. The desktop stays untracked
// until it is removed and re-created.
func (o *Orchestrator) CancelNaming(sessionID string) error {
	return o.do(func(ctx context.Context) error {
		sess, ok := o.sessions[sessionID]
		if !ok {
			return dmerr.Errorf(dmerr.CodeOrchestratorSessionNotFound, "no open session %s", sessionID)
		}
		if sess.Status != store.SessionStatusPendingName {
			return dmerr.Errorf(dmerr.CodeOrchestratorTransitionConflict,
				"session %s is %s and cannot be discarded", sessionID, sess.Status)
		}

		if err := o.store.DeleteSession(ctx, sessionID); err != nil {
			return dmerr.Wrapf(err, dmerr.CodeStoreDatabaseFailure, "discarding session %s", sessionID)
		}
		o.dropSession(sess)
		o.logger.Info("pending session discarded", "session_id", sessionID)
		o.notify.SessionListChanged()
		return nil
	})
}

// ForceSnapshot captures and persists one out-of-band snapshot for an
// active session. State is validated on the loop goroutine; the window
// enumeration blocks on OS calls and therefore runs on the caller's
// goroutine, with the write posted back as a queue task. Desktop events
// keep flowing while the enumeration is in flight.
func (o *Orchestrator) ForceSnapshot(sessionID string) error {
	var captureCtx context.Context
	err := o.do(func(ctx context.Context) error {
		sess, ok := o.sessions[sessionID]
		if !ok {
			return dmerr.Errorf(dmerr.CodeOrchestratorSessionNotFound, "no open session %s", sessionID)
		}
		if sess.Status != store.SessionStatusActive {
			return dmerr.Errorf(dmerr.CodeOrchestratorTransitionConflict,
				"session %s is %s; only active sessions are snapshotted", sessionID, sess.Status)
		}

		if o.tabs != nil {
			if err := o.tabs.RequestTabs(sessionID); err != nil {
				o.logger.Debug("tab request deferred", "session_id", sessionID, "error", err)
			}
		}
		captureCtx = ctx
		return nil
	})
	if err != nil {
		return err
	}

	windows, err := o.capturer.CaptureAll(captureCtx)
	if err != nil {
		return err
	}

	return o.do(func(ctx context.Context) error {
		sess, ok := o.sessions[sessionID]
		if !ok || sess.Status != store.SessionStatusActive {
			return dmerr.Errorf(dmerr.CodeOrchestratorTransitionConflict,
				"session %s left active state during capture", sessionID)
		}
		return o.writeSnapshot(ctx, sess, windows[sess.DesktopKey], o.now())
	})
}

// RequestRestore plans and executes a restore for the session's latest
// snapshot. One-shot: failed actions are reported, never retried. The plan
// is built on the loop goroutine; process launches block on process I/O
// and run on the caller's goroutine, with progress notifications posted
// back as a queue task.
func (o *Orchestrator) RequestRestore(sessionID string) ([]restore.Outcome, error) {
	var (
		plan    restore.Plan
		execCtx context.Context
	)
	err := o.do(func(ctx context.Context) error {
		p, err := o.planner.Plan(ctx, sessionID)
		if err != nil {
			return err
		}
		plan = p
		execCtx = ctx
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcomes := o.executor.Execute(execCtx, plan)

	if err := o.do(func(context.Context) error {
		for _, outcome := range outcomes {
			o.notify.RestoreProgress(sessionID, outcome)
		}
		return nil
	}); err != nil {
		// Stopped mid-restore: the launches already happened, so the
		// outcomes are still the truthful answer.
		o.logger.Debug("restore progress notifications dropped", "session_id", sessionID, "error", err)
	}
	return outcomes, nil
}

// DeleteSession removes a session and its snapshot history. Open sessions
// are dropped from tracking first; ended sessions are deleted straight from
// the store.
func (o *Orchestrator) DeleteSession(sessionID string) error {
	return o.do(func(ctx context.Context) error {
		if sess, ok := o.sessions[sessionID]; ok {
			wasForeground := sess.DesktopKey == o.current
			o.dropSession(sess)
			if wasForeground {
				o.announceForeground()
			}
		}

		if err := o.store.DeleteSession(ctx, sessionID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return dmerr.Errorf(dmerr.CodeOrchestratorSessionNotFound, "no session %s", sessionID)
			}
			return dmerr.Wrapf(err, dmerr.CodeStoreDatabaseFailure, "deleting session %s", sessionID)
		}
		o.logger.Info("session deleted", "session_id", sessionID)
		o.notify.SessionListChanged()
		return nil
	})
}
