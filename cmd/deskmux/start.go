// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deskmux-dev/deskmux/internal/config"
	"github.com/deskmux-dev/deskmux/internal/daemon"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the deskmux daemon",
		Long:  "Load configuration, open the session database, and run the watcher, capture, bridge, and control API until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("db", "", "override database path")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Flag overrides beat the file, but only when actually set.
	if f := cmd.Root().PersistentFlags().Lookup("address"); f != nil && f.Changed {
		cfg.Control.Listen = f.Value.String()
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Storage.Path = db
	}

	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return daemon.Run(ctx, cfg, logger)
}
