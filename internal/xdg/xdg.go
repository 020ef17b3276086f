// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package xdg locates authd files under the XDG base directories.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName        = "authd"
	configFileName = "config.yaml"
)

// ConfigDir returns $XDG_CONFIG_HOME/authd, falling back to ~/.config/authd.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("XDG_HOME_UNKNOWN").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the default config file path and whether a regular
// file exists there.
func ConfigFile() (string, bool) {
	dir, err := ConfigDir()
	if err != nil {
		return "", false
	}
	path := filepath.Join(dir, configFileName)
	info, err := os.Stat(path)
	return path, err == nil && info.Mode().IsRegular()
}
