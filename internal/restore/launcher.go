// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package restore

import (
	"context"
	"log/slog"
	"os/exec"

	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

// defaultBrowser is used for open-urls actions when no browser path is
// configured; resolved through PATH.
const defaultBrowser = "chrome"

// Launcher starts one detached process. dir is the working directory, empty
// for the process default.
type Launcher interface {
	Launch(ctx context.Context, dir, name string, args ...string) error
}

// ExecLauncher launches through os/exec and releases the process so restored
// programs outlive the daemon.
type ExecLauncher struct{}

func (ExecLauncher) Launch(_ context.Context, dir, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return dmerr.Wrapf(err, dmerr.CodeRestoreLaunchFailure, "starting %s", name)
	}
	return cmd.Process.Release()
}

// Outcome records the result of one executed action.
type Outcome struct {
	Action Action `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Executor runs restore plans. Execution is best-effort and one-shot: a
// failed action is recorded and the rest of the plan still runs.
type Executor struct {
	launcher Launcher
	browser  string
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBrowser overrides the browser binary used for open-urls actions.
func WithBrowser(path string) ExecutorOption {
	return func(e *Executor) {
		if path != "" {
			e.browser = path
		}
	}
}

// NewExecutor creates an Executor. A nil launcher gets the os/exec default.
func NewExecutor(launcher Launcher, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		launcher: launcher,
		browser:  defaultBrowser,
		logger:   logger.With("component", "restore.executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every action in order and returns one Outcome per action.
// It never returns an error: a plan where every launch failed is still a
// completed execution.
func (e *Executor) Execute(ctx context.Context, plan Plan) []Outcome {
	outcomes := make([]Outcome, 0, len(plan.Actions))
	for _, action := range plan.Actions {
		err := e.launch(ctx, action)
		outcome := Outcome{Action: action, OK: err == nil}
		if err != nil {
			outcome.Error = err.Error()
			e.logger.Warn("restore action failed",
				"session_id", plan.SessionID, "action", action.Describe(), "error", err)
		} else {
			e.logger.Debug("restore action launched",
				"session_id", plan.SessionID, "action", action.Describe())
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Executor) launch(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionOpenURLs:
		args := append([]string{"--new-window"}, action.URLs...)
		return e.launcher.Launch(ctx, "", e.browser, args...)

	case ActionOpenWorkspace:
		editor := action.Executable
		if editor == "" {
			editor = "code"
		}
		return e.launcher.Launch(ctx, "", editor, action.Path)

	case ActionOpenTerminal:
		terminal := action.Executable
		if terminal == "" {
			terminal = "wt"
		}
		return e.launcher.Launch(ctx, action.Path, terminal)

	case ActionRelaunch:
		return e.launcher.Launch(ctx, "", action.Path)

	default:
		return dmerr.Errorf(dmerr.CodeRestoreLaunchFailure, "unknown action kind %q", action.Kind)
	}
}
