// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/umintramurals/campusauth/internal/config"
)

// NewRootCmd creates the root command for the campusauth CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(serveDeps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campusauth",
		Short: "campusauth - student account registration and login",
		Long: `campusauth registers student accounts and authenticates them against
a file or PostgreSQL user store, issuing sessions and remember-me tokens.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/campusauth/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd(serveDeps))
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUsersCmd())
	cmd.AddCommand(NewImportLegacyCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd from its flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = ""
	}
	return config.Load(config.LoadOptions{File: path, Flags: cmd.Flags()})
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the campusauth version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("campusauth " + versionString())
		},
	}
}
