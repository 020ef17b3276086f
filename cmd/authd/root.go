// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/authd-dev/authd/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - credential and session service",
		Long: `authd registers users, verifies their passwords, and issues signed
bearer tokens backed by revocable sessions.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// configPath returns the --config value, or the XDG default file when the
// flag is unset and that file exists.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	if path, ok := xdg.ConfigFile(); ok {
		return path
	}
	return ""
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			v := cmd.Root().Version
			if v == "" {
				v = version
			}
			cmd.Println("authd " + v)
		},
	}
}
