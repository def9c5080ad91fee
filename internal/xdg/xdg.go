// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

// Package xdg provides XDG Base Directory paths for campusauth.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "campusauth"

// ConfigDir returns the XDG config directory for campusauth.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for campusauth.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	return dir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ConfigFile is the config file read when --config is not given.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// UsersFile is the default location of the file-backed user store.
func UsersFile() string {
	return filepath.Join(DataDir(), "users.json")
}

func dir(env, homeRel string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), homeRel)
	}
	return filepath.Join(base, appName)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("XDG_MKDIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
