// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

// sessionJSON mirrors the control API's session summary.
type sessionJSON struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	DesktopKey     string     `json:"desktop_key"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	EndedAt        *time.Time `json:"ended_at"`
	LastSnapshotAt *time.Time `json:"last_snapshot_at"`
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage desktop sessions",
		Long:  "List, name, snapshot, restore, and delete the sessions tracked by the running daemon.",
	}

	cmd.AddCommand(
		newSessionsListCmd(),
		newSessionsShowCmd(),
		newSessionsNameCmd(),
		newSessionsCancelCmd(),
		newSessionsSnapshotCmd(),
		newSessionsRestoreCmd(),
		newSessionsDeleteCmd(),
	)

	return cmd
}

func clientFor(cmd *cobra.Command) (*daemonClient, string) {
	addr, _ := cmd.Root().PersistentFlags().GetString("address")
	return newDaemonClient(addr), addr
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dc, addr := clientFor(cmd)
			out := cmd.OutOrStdout()

			var body struct {
				Sessions []sessionJSON `json:"sessions"`
			}
			if err := dc.getJSON("/v1/sessions", &body); err != nil {
				if dmerr.HasCode(err, dmerr.CodeCLIDaemonNotRunning) {
					_, _ = fmt.Fprintln(out, notRunningMessage(addr))
					return nil
				}
				return dmerr.Errorf(dmerr.CodeCLIRequestFailure, "listing sessions: %w", err)
			}

			if len(body.Sessions) == 0 {
				_, _ = fmt.Fprintln(out, "No sessions found")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tNAME\tDESKTOP\tSTATUS\tLAST SNAPSHOT")
			for _, s := range body.Sessions {
				last := "-"
				if s.LastSnapshotAt != nil {
					last = s.LastSnapshotAt.Local().Format(time.DateTime)
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.DesktopKey, s.Status, last)
			}
			return tw.Flush()
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its latest snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc, addr := clientFor(cmd)
			out := cmd.OutOrStdout()
			id := args[0]

			var sess sessionJSON
			if err := dc.getJSON("/v1/sessions/"+id, &sess); err != nil {
				if dmerr.HasCode(err, dmerr.CodeCLIDaemonNotRunning) {
					_, _ = fmt.Fprintln(out, notRunningMessage(addr))
					return nil
				}
				return dmerr.Errorf(dmerr.CodeCLIRequestFailure, "loading session: %w", err)
			}

			_, _ = fmt.Fprintf(out, "ID:       %s\n", sess.ID)
			_, _ = fmt.Fprintf(out, "Name:     %s\n", sess.Name)
			_, _ = fmt.Fprintf(out, "Desktop:  %s\n", sess.DesktopKey)
			_, _ = fmt.Fprintf(out, "Status:   %s\n", sess.Status)
			_, _ = fmt.Fprintf(out, "Created:  %s\n", sess.CreatedAt.Local().Format(time.DateTime))
			if sess.EndedAt != nil {
				_, _ = fmt.Fprintf(out, "Ended:    %s\n", sess.EndedAt.Local().Format(time.DateTime))
			}

			var snap struct {
				CapturedAt time.Time `json:"captured_at"`
				Windows    []struct {
					ProcessName string `json:"process_name"`
					Title       string `json:"title"`
				} `json:"windows"`
				Tabs []struct {
					URL string `json:"url"`
				} `json:"tabs"`
			}
			if err := dc.getJSON("/v1/sessions/"+id+"/snapshot", &snap); err != nil {
				_, _ = fmt.Fprintln(out, "Snapshot: none")
				return nil
			}
			_, _ = fmt.Fprintf(out, "Snapshot: %s (%d windows, %d tabs)\n",
				snap.CapturedAt.Local().Format(time.DateTime), len(snap.Windows), len(snap.Tabs))
			for _, w := range snap.Windows {
				_, _ = fmt.Fprintf(out, "  window  %-20s %s\n", w.ProcessName, w.Title)
			}
			for _, tab := range snap.Tabs {
				_, _ = fmt.Fprintf(out, "  tab     %s\n", tab.URL)
			}
			return nil
		},
	}
}

func newSessionsNameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "name <session-id> <name>",
		Short: "Confirm a name for a pending session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[1] == "" {
				return dmerr.New(dmerr.CodeCLIInputInvalid, "session name must not be empty")
			}
			dc, addr := clientFor(cmd)
			out := cmd.OutOrStdout()

			body := struct {
				Name string `json:"name"`
			}{Name: args[1]}
			if err := dc.postJSON("/v1/sessions/"+args[0]+"/name", body, nil); err != nil {
				if dmerr.HasCode(err, dmerr.CodeCLIDaemonNotRunning) {
					_, _ = fmt.Fprintln(out, notRunningMessage(addr))
					return nil
				}
				return dmerr.Errorf(dmerr.CodeCLIRequestFailure, "naming session: %w", err)
			}
			_, _ = fmt.Fprintf(out, "Session %s is now %q\n", args[0], args[1])
			return nil
		},
	}
}

func newSessionsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Discard a pending session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc, addr := clientFor(cmd)
			out := cmd.OutOrStdout()

			if err := dc.postJSON("/v1/sessions/"+args[0]+"/cancel", nil, nil); err != nil {
				if dmerr.HasCode(err, dmerr.CodeCLIDaemonNotRunning) {
					_, _ = fmt.Fprintln(out, notRunningMessage(addr))
					return nil
				}
				return dmerr.Errorf(dmerr.CodeCLIRequestFailure, "discarding session: %w", err)
			}
			_, _ = fmt.Fprintf(out, "Session %s discarded\n", args[0])
			return nil
		},
	}
}

func newSessionsSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <session-id>",
		Short: "Capture a snapshot now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc, addr := clientFor(cmd)
			out := cmd.OutOrStdout()

			if err := dc.postJSON("/v1/sessions/"+args[0]+"/snapshot", nil, nil); err != nil {
				if dmerr.HasCode(err, dmerr.CodeCLIDaemonNotRunning) {
					_, _ = fmt.Fprintln(out, notRunningMessage(addr))
					return nil
				}
				return dmerr.Errorf(dmerr.CodeCLIRequestFailure, "snapshotting session: %w", err)
			}
			_, _ = fmt.Fprintf(out, "Snapshot captured for session %s\n", args[0])
			return nil
		},
	}
}

func newSessionsRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <session-id>",
		Short: "Restore the session's latest snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc, addr := clientFor(cmd)
			out := cmd.OutOrStdout()

			var body struct {
				Outcomes []struct {
					OK     bool   `json:"ok"`
					Error  string `json:"error"`
					Action struct {
						Kind string   `json:"kind"`
						Path string   `json:"path"`
						URLs []string `json:"urls"`
					} `json:"action"`
				} `json:"outcomes"`
			}
			if err := dc.postJSON("/v1/sessions/"+args[0]+"/restore", nil, &body); err != nil {
				if dmerr.HasCode(err, dmerr.CodeCLIDaemonNotRunning) {
					_, _ = fmt.Fprintln(out, notRunningMessage(addr))
					return nil
				}
				return dmerr.Errorf(dmerr.CodeCLIRequestFailure, "restoring session: %w", err)
			}

			for _, outcome := range body.Outcomes {
				mark := "ok"
				if !outcome.OK {
					mark = "FAILED: " + outcome.Error
				}
				target := outcome.Action.Path
				if outcome.Action.Kind == "open-urls" {
					target = fmt.Sprintf("%d tab(s)", len(outcome.Action.URLs))
				}
				_, _ = fmt.Fprintf(out, "%-20s %-40s %s\n", outcome.Action.Kind, target, mark)
			}
			_, _ = fmt.Fprintf(out, "Restore finished: %d action(s)\n", len(body.Outcomes))
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its snapshot history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc, addr := clientFor(cmd)
			out := cmd.OutOrStdout()

			if err := dc.deleteJSON("/v1/sessions/"+args[0], nil); err != nil {
				if dmerr.HasCode(err, dmerr.CodeCLIDaemonNotRunning) {
					_, _ = fmt.Fprintln(out, notRunningMessage(addr))
					return nil
				}
				return dmerr.Errorf(dmerr.CodeCLIRequestFailure, "deleting session: %w", err)
			}
			_, _ = fmt.Fprintf(out, "Session %s deleted\n", args[0])
			return nil
		},
	}
}
