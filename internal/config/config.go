// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

// Package config loads and validates the daemon configuration.
package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

// Config is the top-level Deskmux configuration.
type Config struct {
	Watcher WatcherConfig `mapstructure:"watcher"`
	Capture CaptureConfig `mapstructure:"capture"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Storage StorageConfig `mapstructure:"storage"`
	Control ControlConfig `mapstructure:"control"`
	Restore RestoreConfig `mapstructure:"restore"`
}

// WatcherConfig tunes the desktop topology poller.
type WatcherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// FailureGrace is the consecutive enumeration failure count at which
	// an empty topology is trusted and removals surface.
	FailureGrace int `mapstructure:"failure_grace"`
}

// CaptureConfig tunes the snapshot cadence.
type CaptureConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// BridgeConfig points at the browser-extension relay.
type BridgeConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	RetryCap time.Duration `mapstructure:"retry_cap"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ControlConfig configures the local control API.
type ControlConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// RestoreConfig tunes restore execution.
type RestoreConfig struct {
	// Browser is the binary used to reopen tab groups.
	Browser string `mapstructure:"browser"`
}

// Load reads configuration from the given path (or the default search
// locations) with environment variable overrides (prefix DESKMUX_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("watcher.poll_interval", 500*time.Millisecond)
	v.SetDefault("watcher.failure_grace", 2)
	v.SetDefault("capture.snapshot_interval", 30*time.Second)
	v.SetDefault("bridge.endpoint", "ws://127.0.0.1:18711/bridge")
	v.SetDefault("bridge.retry_cap", 5*time.Second)
	v.SetDefault("storage.path", "deskmux.db")
	v.SetDefault("control.listen", "127.0.0.1:18710")
	v.SetDefault("restore.browser", "chrome")

	// Environment
	v.SetEnvPrefix("DESKMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, dmerr.Errorf(dmerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("deskmux")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/deskmux")
		v.AddConfigPath("/etc/deskmux")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, dmerr.Errorf(dmerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, dmerr.Errorf(dmerr.CodeConfigLoadReadFailure, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns every
// validation error found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	if c.Watcher.PollInterval <= 0 {
		errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: watcher.poll_interval must be positive, got %s", c.Watcher.PollInterval))
	}
	if c.Watcher.FailureGrace < 1 {
		errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: watcher.failure_grace must be at least 1, got %d", c.Watcher.FailureGrace))
	}
	if c.Capture.SnapshotInterval <= 0 {
		errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: capture.snapshot_interval must be positive, got %s", c.Capture.SnapshotInterval))
	}
	if c.Bridge.RetryCap <= 0 {
		errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: bridge.retry_cap must be positive, got %s", c.Bridge.RetryCap))
	}
	if !strings.HasPrefix(c.Bridge.Endpoint, "ws://") && !strings.HasPrefix(c.Bridge.Endpoint, "wss://") {
		errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: bridge.endpoint must be a ws:// or wss:// URL, got %q", c.Bridge.Endpoint))
	}
	if c.Storage.Path == "" {
		errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty"))
	}
	errs = append(errs, validateListen(c.Control.Listen)...)

	return errs
}

func validateListen(listen string) []error {
	if listen == "" {
		return []error{dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: control.listen must not be empty")}
	}

	var errs []error
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return []error{dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: control.listen must be a valid host:port address, got %q: %w", listen, err)}
	}
	if port, convErr := strconv.Atoi(portStr); convErr != nil || port < 0 || port > 65535 {
		errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: control.listen port must be 0-65535, got %q", portStr))
	}
	return errs
}
