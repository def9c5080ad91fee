// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package main

import (
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/umintramurals/campusauth/internal/legacy"
	"github.com/umintramurals/campusauth/internal/logging"
)

// NewImportLegacyCmd creates the import-legacy subcommand.
func NewImportLegacyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-legacy <file>",
		Short: "Import users from a legacy JSON export",
		Long: `Read a JSON array of users exported by the previous registration system
and add them to the configured user store. Records whose username, email or
student ID already exist are skipped, so the import can be re-run safely.
Legacy bcrypt hashes are kept and upgraded on the next successful login.`,
		Args: cobra.ExactArgs(1),
		RunE: runImportLegacy,
	}
}

func runImportLegacy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.Setup(logging.Options{
		Service: "campusauth",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})

	f, err := os.Open(args[0])
	if err != nil {
		return oops.Code("LEGACY_READ_FAILED").With("path", args[0]).Wrap(err)
	}
	defer f.Close() //nolint:errcheck // read-only

	records, err := legacy.Parse(f)
	if err != nil {
		return oops.With("path", args[0]).Wrap(err)
	}

	stores, err := openStores(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer stores.Close()

	importer, err := legacy.NewImporter(stores.Users, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := importer.Import(cmd.Context(), records)
	if err != nil {
		return err
	}

	cmd.Printf("imported %d, skipped %d, invalid %d (%s)\n",
		report.Imported, report.Skipped, report.Invalid, time.Since(start).Round(time.Millisecond))
	return nil
}
