// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/umintramurals/campusauth/internal/config"
	"github.com/umintramurals/campusauth/internal/store"
)

// migrator is the part of *store.Migrator the migrate commands drive.
type migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() error
}

// migratorFactory builds a migrator for a database URL. Tests replace it.
var migratorFactory = func(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand. Without a subcommand it
// applies every pending migration.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Apply the users and sessions schema to the PostgreSQL database named by
store.database_url (or DATABASE_URL).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, runMigrateUp)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, runMigrateUp)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(cmd *cobra.Command, m migrator) error {
				cmd.Println("Rolling back migrations...")
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(cmd *cobra.Command, m migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if dirty {
					cmd.Printf("version %d (dirty)\n", v)
					return nil
				}
				cmd.Printf("version %d\n", v)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Long:  `Mark the schema as being at version and clear the dirty flag. Use after fixing a failed migration by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, func(cmd *cobra.Command, m migrator) error {
				if err := m.Force(v); err != nil {
					return err
				}
				cmd.Printf("Forced version %d\n", v)
				return nil
			})
		},
	})

	return cmd
}

func runMigrateUp(cmd *cobra.Command, m migrator) error {
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

// withMigrator opens a migrator for the configured database, runs fn and closes it.
func withMigrator(cmd *cobra.Command, fn func(*cobra.Command, migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	databaseURL, err := requireDatabaseURL(cfg)
	if err != nil {
		return err
	}

	m, err := migratorFactory(databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()

	return fn(cmd, m)
}

func requireDatabaseURL(cfg *config.Config) (string, error) {
	if cfg.Store.DatabaseURL == "" {
		return "", oops.Code("CONFIG_INVALID").
			With("key", "store.database_url").
			Errorf("a database URL is required (set store.database_url, --database-url or DATABASE_URL)")
	}
	return cfg.Store.DatabaseURL, nil
}

// parseForceVersion reads a leading integer from s. Trailing characters are ignored.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer")
	}
	return v, nil
}
