// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

// Package restore turns a session's latest snapshot into an ordered list of
// launch actions and executes them best-effort. Planning is pure; only
// Execute touches the OS.
package restore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/deskmux-dev/deskmux/internal/store"
	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

// ActionKind classifies a launch action.
type ActionKind string

const (
	// ActionOpenURLs opens one browser window with the group's URLs.
	ActionOpenURLs ActionKind = "open-urls"
	// ActionOpenWorkspace opens an editor on a workspace folder.
	ActionOpenWorkspace ActionKind = "open-workspace"
	// ActionOpenTerminal opens a terminal in a working directory.
	ActionOpenTerminal ActionKind = "open-terminal"
	// ActionRelaunch starts a bare executable with no arguments.
	ActionRelaunch ActionKind = "relaunch-executable"
)

// Action is one step of a restore plan.
type Action struct {
	Kind ActionKind `json:"kind"`
	// Process is the source process name, for reporting.
	Process string `json:"process,omitempty"`
	// Executable is the program to launch; empty means the executor's
	// default for this kind.
	Executable string `json:"executable,omitempty"`
	// Path is the workspace folder, working directory, or executable path
	// depending on Kind.
	Path string `json:"path,omitempty"`
	// URLs is the tab group for ActionOpenURLs.
	URLs []string `json:"urls,omitempty"`
}

// Plan is the full ordered action list for one session.
type Plan struct {
	SessionID  string    `json:"session_id"`
	CapturedAt time.Time `json:"captured_at"`
	Actions    []Action  `json:"actions"`
}

// Windows whose work is restored through another channel, or that restart
// themselves: relaunching these bare would duplicate browser windows, spawn
// empty editors, or fight the shell.
var fallbackSkip = map[string]struct{}{
	"chrome":          {},
	"msedge":          {},
	"firefox":         {},
	"brave":           {},
	"vivaldi":         {},
	"opera":           {},
	"code":            {},
	"code - insiders": {},
	"codium":          {},
	"cursor":          {},
	"windowsterminal": {},
	"wt":              {},
	"cmd":             {},
	"powershell":      {},
	"pwsh":            {},
	"alacritty":       {},
	"wezterm-gui":     {},
	"conhost":         {},
}

var browserProcesses = map[string]struct{}{
	"chrome":  {},
	"msedge":  {},
	"firefox": {},
	"brave":   {},
	"vivaldi": {},
	"opera":   {},
}

var editorProcesses = map[string]struct{}{
	"code":            {},
	"code - insiders": {},
	"codium":          {},
	"cursor":          {},
}

var terminalProcesses = map[string]struct{}{
	"windowsterminal": {},
	"wt":              {},
	"cmd":             {},
	"powershell":      {},
	"pwsh":            {},
	"alacritty":       {},
	"wezterm-gui":     {},
}

// Planner builds restore plans from persisted snapshots.
type Planner struct {
	snapshots store.SnapshotStore
}

// NewPlanner creates a Planner over the given snapshot store.
func NewPlanner(snapshots store.SnapshotStore) *Planner {
	return &Planner{snapshots: snapshots}
}

// Plan reads the session's latest snapshot and derives the action list.
// Deterministic: the same snapshot always yields the same plan.
func (p *Planner) Plan(ctx context.Context, sessionID string) (Plan, error) {
	snap, err := p.snapshots.LatestSnapshot(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Plan{}, dmerr.Wrapf(err, dmerr.CodeRestorePlanNotFound,
				"session %s has no snapshot to restore", sessionID)
		}
		return Plan{}, err
	}

	plan := Plan{SessionID: sessionID, CapturedAt: snap.CapturedAt}
	plan.Actions = append(plan.Actions, tabActions(snap.Tabs)...)
	plan.Actions = append(plan.Actions, windowActions(snap.Windows)...)
	return plan, nil
}

// tabActions groups tabs by their source browser window, preserving the
// order in which groups first appear, one open-urls action per group.
func tabActions(tabs []store.TabEntry) []Action {
	var order []int64
	groups := make(map[int64][]string)
	for _, tab := range tabs {
		if _, seen := groups[tab.WindowGroup]; !seen {
			order = append(order, tab.WindowGroup)
		}
		groups[tab.WindowGroup] = append(groups[tab.WindowGroup], tab.URL)
	}

	actions := make([]Action, 0, len(order))
	for _, group := range order {
		actions = append(actions, Action{Kind: ActionOpenURLs, URLs: groups[group]})
	}
	return actions
}

func windowActions(windows []store.WindowEntry) []Action {
	var actions []Action
	seenExecutables := make(map[string]struct{})

	for _, win := range windows {
		proc := win.ProcessName
		if _, ok := browserProcesses[proc]; ok {
			// Tabs already cover browser windows.
			continue
		}
		if _, ok := editorProcesses[proc]; ok && win.CommandHint != "" {
			actions = append(actions, Action{
				Kind: ActionOpenWorkspace, Process: proc,
				Executable: win.ExecutablePath, Path: win.CommandHint,
			})
			continue
		}
		if _, ok := terminalProcesses[proc]; ok && win.CommandHint != "" {
			actions = append(actions, Action{
				Kind: ActionOpenTerminal, Process: proc,
				Executable: win.ExecutablePath, Path: win.CommandHint,
			})
			continue
		}

		// Generic fallback: relaunch the executable once, skipping anything
		// whose bare relaunch would be useless or disruptive.
		if _, skip := fallbackSkip[proc]; skip {
			continue
		}
		if win.ExecutablePath == "" {
			continue
		}
		key := normalizeExecutable(win.ExecutablePath)
		if _, dup := seenExecutables[key]; dup {
			continue
		}
		seenExecutables[key] = struct{}{}
		actions = append(actions, Action{
			Kind: ActionRelaunch, Process: proc, Path: win.ExecutablePath,
		})
	}
	return actions
}

func normalizeExecutable(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

// Describe renders a human-readable one-liner for progress reporting.
func (a Action) Describe() string {
	switch a.Kind {
	case ActionOpenURLs:
		return fmt.Sprintf("open browser window with %d tab(s)", len(a.URLs))
	case ActionOpenWorkspace:
		return fmt.Sprintf("open %s workspace %s", a.Process, a.Path)
	case ActionOpenTerminal:
		return fmt.Sprintf("open %s in %s", a.Process, a.Path)
	case ActionRelaunch:
		return fmt.Sprintf("relaunch %s", a.Path)
	default:
		return string(a.Kind)
	}
}
