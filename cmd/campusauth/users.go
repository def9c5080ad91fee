// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/umintramurals/campusauth/internal/auth"
)

// Output formats for users list.
const (
	formatTable = "table"
	formatJSON  = "json"
)

// NewUsersCmd creates the users subcommand.
func NewUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect registered accounts",
	}

	var format string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered users without password hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUsersList(cmd, format)
		},
	}
	list.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	cmd.AddCommand(list)

	return cmd
}

func runUsersList(cmd *cobra.Command, format string) error {
	if format != formatTable && format != formatJSON {
		return oops.Code("INVALID_FORMAT").With("format", format).Errorf("format must be %q or %q", formatTable, formatJSON)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stores, err := openStores(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer stores.Close()

	users, err := stores.Users.List(cmd.Context())
	if err != nil {
		return err
	}
	public := auth.PublicUsers(users)

	if format == formatJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(public); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tEMAIL\tSTUDENT ID\tDEPARTMENT\tROLE\tREGISTERED\tLAST LOGIN")
	for _, u := range public {
		lastLogin := "-"
		if u.LastLoginAt != nil {
			lastLogin = u.LastLoginAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			u.Username, u.Email, u.StudentID, u.Department, u.Role,
			u.RegisteredAt.UTC().Format(time.RFC3339), lastLogin)
	}
	if err := w.Flush(); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
