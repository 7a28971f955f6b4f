// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long:  "Check the running daemon's health endpoint and display its status.",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	dc, addr := clientFor(cmd)
	out := cmd.OutOrStdout()

	var body struct {
		Status string `json:"status"`
	}
	if err := dc.getJSON("/health", &body); err != nil {
		if dmerr.HasCode(err, dmerr.CodeCLIDaemonNotRunning) {
			_, _ = fmt.Fprintln(out, notRunningMessage(addr))
			return nil
		}
		_, _ = fmt.Fprintf(out, "Daemon at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Daemon at %s: %s\n", addr, body.Status)
	return nil
}
