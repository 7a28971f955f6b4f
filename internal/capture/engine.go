// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package capture

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/deskmux-dev/deskmux/internal/store"
	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

// RawWindow is one top-level window as reported by the platform source,
// before filtering and normalisation.
type RawWindow struct {
	DesktopKey     string
	Title          string
	Class          string
	PID            int
	ProcessName    string
	ExecutablePath string
	WorkingDir     string
	Visible        bool
	Minimized      bool
	// Tool marks tool windows (palettes, tooltips) that never represent
	// user work.
	Tool bool
}

// WindowSource abstracts the OS window enumeration.
type WindowSource interface {
	// Windows returns every top-level window across all desktops.
	Windows(ctx context.Context) ([]RawWindow, error)
}

// Transient shell windows that carry no restorable work. Mirrors the skip
// list the desktop shell makes necessary: the task switcher, start menu and
// input hosts all appear as ordinary top-level windows.
var systemProcesses = map[string]struct{}{
	"explorer":                {},
	"textinputhost":           {},
	"shellexperiencehost":     {},
	"searchui":                {},
	"searchhost":              {},
	"startmenuexperiencehost": {},
	"applicationframehost":    {},
	"systemsettings":          {},
	"dwm":                     {},
}

// terminalProcesses get their working directory as the launch hint.
var terminalProcesses = map[string]struct{}{
	"windowsterminal": {},
	"wt":              {},
	"cmd":             {},
	"powershell":      {},
	"pwsh":            {},
	"alacritty":       {},
	"wezterm-gui":     {},
}

// editorProcesses get a workspace folder parsed from the window title.
var editorProcesses = map[string]struct{}{
	"code":            {},
	"code - insiders": {},
	"codium":          {},
	"cursor":          {},
}

// Engine normalises raw windows into persisted snapshot entries.
type Engine struct {
	source WindowSource
	logger *slog.Logger
	// selfProcess is the capture tool's own process name, filtered out of
	// every capture.
	selfProcess string
}

// NewEngine creates an Engine over the given source. selfProcess is the
// daemon's own process name (without extension).
func NewEngine(source WindowSource, selfProcess string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source:      source,
		logger:      logger.With("component", "capture.engine"),
		selfProcess: normalizeProcess(selfProcess),
	}
}

// Capture returns the snapshot entries for one desktop, in source order.
// When enumeration fails entirely it returns an empty slice and a soft
// error; the caller continues on its normal schedule.
func (e *Engine) Capture(ctx context.Context, desktopKey string) ([]store.WindowEntry, error) {
	all, err := e.CaptureAll(ctx)
	if err != nil {
		return nil, err
	}
	return all[desktopKey], nil
}

// CaptureAll returns snapshot entries grouped by desktop key.
func (e *Engine) CaptureAll(ctx context.Context) (map[string][]store.WindowEntry, error) {
	raws, err := e.source.Windows(ctx)
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeCaptureSourceFailure, "enumerating windows")
	}

	out := make(map[string][]store.WindowEntry)
	for _, raw := range raws {
		entry, ok := e.normalize(raw)
		if !ok {
			continue
		}
		out[raw.DesktopKey] = append(out[raw.DesktopKey], entry)
	}
	return out, nil
}

// normalize filters one raw window and builds its entry. Heuristic failures
// degrade to an empty hint, never to a dropped capture.
func (e *Engine) normalize(raw RawWindow) (store.WindowEntry, bool) {
	if !raw.Visible || raw.Tool {
		return store.WindowEntry{}, false
	}
	if strings.TrimSpace(raw.Title) == "" {
		return store.WindowEntry{}, false
	}

	proc := normalizeProcess(raw.ProcessName)
	if proc == "" || proc == e.selfProcess {
		return store.WindowEntry{}, false
	}
	if _, skip := systemProcesses[proc]; skip {
		return store.WindowEntry{}, false
	}

	return store.WindowEntry{
		ProcessName:    proc,
		ExecutablePath: raw.ExecutablePath,
		Title:          raw.Title,
		Class:          raw.Class,
		CommandHint:    e.commandHint(proc, raw),
		Minimized:      raw.Minimized,
	}, true
}

// commandHint extracts best-effort launch context for known process kinds.
func (e *Engine) commandHint(proc string, raw RawWindow) (hint string) {
	// A heuristic must never fail the capture of its window.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("command hint extraction panicked", "process", proc, "panic", r)
			hint = ""
		}
	}()

	if _, ok := terminalProcesses[proc]; ok {
		return raw.WorkingDir
	}
	if _, ok := editorProcesses[proc]; ok {
		if folder := workspaceFromTitle(raw.Title); folder != "" {
			return folder
		}
		return raw.WorkingDir
	}
	return ""
}

// workspaceFromTitle parses the workspace folder out of an editor title of
// the form "file — folder — Visual Studio Code". Editors render the
// separator as an em dash or a plain hyphen depending on version.
func workspaceFromTitle(title string) string {
	for _, sep := range []string{" — ", " - "} {
		if !strings.Contains(title, sep) {
			continue
		}
		parts := strings.Split(title, sep)
		if len(parts) < 2 {
			continue
		}
		// Last part is the product name, second-to-last the folder.
		folder := strings.TrimSpace(parts[len(parts)-2])
		if folder != "" {
			return folder
		}
	}
	return ""
}

// normalizeProcess lowercases and strips the executable extension so
// "Code.exe" and "code" compare equal.
func normalizeProcess(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, filepath.Ext(name))
}
