// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/pkg/errutil"
)

func runConfig(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"config"}, args...))
	t.Cleanup(func() { configFile = "" })
	err := cmd.Execute()
	return out.String(), err
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	clearDatabaseEnv(t)
	path := writeConfigFile(t, `
database:
  url: postgres://authd:hunter2@db:5432/authd
jwt:
  secret: `+strings.Repeat("s", 40)+`
`)

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--config", path, "config", "show", "--http-addr", ":8080"})
	t.Cleanup(func() { configFile = "" })
	require.NoError(t, cmd.Execute())

	assert.NotContains(t, out.String(), "hunter2")
	assert.NotContains(t, out.String(), strings.Repeat("s", 40))

	var shown config.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &shown))
	assert.Equal(t, ":8080", shown.HTTP.Addr)
	assert.Equal(t, "[REDACTED]", shown.JWT.Secret)
	assert.Contains(t, shown.Database.URL, "db:5432/authd")
}

func TestConfigValidate(t *testing.T) {
	clearDatabaseEnv(t)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTHD_JWT_SECRET", "")

	_, err := runConfig(t, "validate")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "database.url")

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/authd")
	t.Setenv("JWT_SECRET", strings.Repeat("k", 32))

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config", "validate"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Configuration is valid")
}

func TestConfigShow_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := runConfig(t, "show")
	require.NoError(t, err)

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "config", "show"})
	t.Cleanup(func() { configFile = "" })
	errutil.AssertErrorCode(t, cmd.Execute(), "CONFIG_INVALID")
}

func TestConfigPath_FallsBackToXDGFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	configFile = ""
	t.Cleanup(func() { configFile = "" })

	assert.Empty(t, configPath(), "no default file yet")

	dir := filepath.Join(base, "authd")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: \":4000\"\n"), 0o600))
	assert.Equal(t, path, configPath())

	out, err := runConfig(t, "show")
	require.NoError(t, err)
	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, ":4000", shown.HTTP.Addr)

	configFile = "/explicit.yaml"
	assert.Equal(t, "/explicit.yaml", configPath())
}
