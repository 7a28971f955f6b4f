// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmux-dev/deskmux/internal/config"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.PollInterval)
	assert.Equal(t, 2, cfg.Watcher.FailureGrace)
	assert.Equal(t, 30*time.Second, cfg.Capture.SnapshotInterval)
	assert.Equal(t, "ws://127.0.0.1:18711/bridge", cfg.Bridge.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Bridge.RetryCap)
	assert.Equal(t, "deskmux.db", cfg.Storage.Path)
	assert.Equal(t, "127.0.0.1:18710", cfg.Control.Listen)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "deskmux.yaml")

	content := `
watcher:
  poll_interval: 1s
capture:
  snapshot_interval: 5s
storage:
  path: /var/lib/deskmux/deskmux.db
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Watcher.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Capture.SnapshotInterval)
	assert.Equal(t, "/var/lib/deskmux/deskmux.db", cfg.Storage.Path)
	assert.Equal(t, 2, cfg.Watcher.FailureGrace, "unset keys keep their defaults")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DESKMUX_CONTROL_LISTEN", "127.0.0.1:9999")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Control.Listen)
}

func TestLoad_ValidationCalledAtLoadTime(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "deskmux.yaml")

	content := `
watcher:
  poll_interval: -1s
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	_, err := config.Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watcher.poll_interval")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &config.Config{
		Watcher: config.WatcherConfig{PollInterval: 0, FailureGrace: 0},
		Capture: config.CaptureConfig{SnapshotInterval: -time.Second},
		Bridge:  config.BridgeConfig{Endpoint: "http://not-websocket", RetryCap: 0},
		Storage: config.StorageConfig{Path: ""},
		Control: config.ControlConfig{Listen: "no-port"},
	}

	errs := cfg.Validate()
	require.Len(t, errs, 7, "every invalid field is reported, not only the first")
}

func TestValidate_ListenAddress(t *testing.T) {
	tests := []struct {
		name   string
		listen string
		ok     bool
	}{
		{"loopback with port", "127.0.0.1:18710", true},
		{"port only", ":18710", true},
		{"missing port", "127.0.0.1", false},
		{"port out of range", "127.0.0.1:99999", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load("")
			require.NoError(t, err)
			cfg.Control.Listen = tt.listen
			errs := cfg.Validate()
			if tt.ok {
				assert.Empty(t, errs)
			} else {
				assert.NotEmpty(t, errs)
			}
		})
	}
}
