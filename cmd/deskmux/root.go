// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd creates the root deskmux command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deskmux",
		Short:         "Desktop session tracker",
		Long:          "Deskmux binds named work sessions to virtual desktops, captures their windows and browser tabs, and restores them later.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindRootFlags(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	root.PersistentFlags().String("address", "127.0.0.1:18710", "control API address of the running daemon")

	root.AddCommand(
		newStartCmd(),
		newSessionsCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// bindRootFlags maps persistent flags to viper keys so the standard
// precedence (flag > env > file > defaults) holds uniformly.
func bindRootFlags(cmd *cobra.Command) error {
	v := viper.GetViper()
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return err
	}
	return v.BindPFlag("control.listen", cmd.Root().PersistentFlags().Lookup("address"))
}
