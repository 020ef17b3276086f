// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package store

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authd-dev/authd/pkg/errutil"
)

// fakeMigrate implements migrateIface for testing.
type fakeMigrate struct {
	upErr, downErr, stepsErr, forceErr error
	version                            uint
	dirty                              bool
	versionErr                         error
	closeSourceErr, closeDBErr         error
	forced                             int
}

func (f *fakeMigrate) Up() error                    { return f.upErr }
func (f *fakeMigrate) Down() error                  { return f.downErr }
func (f *fakeMigrate) Steps(int) error              { return f.stepsErr }
func (f *fakeMigrate) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeMigrate) Close() (error, error)        { return f.closeSourceErr, f.closeDBErr }
func (f *fakeMigrate) Force(v int) error {
	f.forced = v
	return f.forceErr
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/auth":   "pgx5://u:p@db:5432/auth",
		"postgresql://u:p@db:5432/auth": "pgx5://u:p@db:5432/auth",
		"pgx5://db/auth":                "pgx5://db/auth",
		"mysql://db/auth":               "mysql://db/auth",
	}
	for in, want := range tests {
		assert.Equal(t, want, MigrateURL(in), in)
	}
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/auth")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestNewMigrator_PostgresqlSchemeIsRecognised(t *testing.T) {
	_, err := NewMigrator("postgresql://127.0.0.1:1/auth?connect_timeout=1")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	assert.NotContains(t, err.Error(), "unknown driver")
}

func TestMigrator_Operations(t *testing.T) {
	boom := errors.New("database locked")

	tests := []struct {
		name     string
		fake     *fakeMigrate
		run      func(*Migrator) error
		wantCode string
	}{
		{name: "up", fake: &fakeMigrate{}, run: (*Migrator).Up},
		{name: "up no change", fake: &fakeMigrate{upErr: migrate.ErrNoChange}, run: (*Migrator).Up},
		{name: "up error", fake: &fakeMigrate{upErr: boom}, run: (*Migrator).Up, wantCode: "MIGRATION_UP_FAILED"},
		{name: "down", fake: &fakeMigrate{}, run: (*Migrator).Down},
		{name: "down no change", fake: &fakeMigrate{downErr: migrate.ErrNoChange}, run: (*Migrator).Down},
		{name: "down error", fake: &fakeMigrate{downErr: boom}, run: (*Migrator).Down, wantCode: "MIGRATION_DOWN_FAILED"},
		{
			name: "steps no change",
			fake: &fakeMigrate{stepsErr: migrate.ErrNoChange},
			run:  func(m *Migrator) error { return m.Steps(0) },
		},
		{
			name:     "steps error",
			fake:     &fakeMigrate{stepsErr: boom},
			run:      func(m *Migrator) error { return m.Steps(-1) },
			wantCode: "MIGRATION_STEPS_FAILED",
		},
		{
			name:     "force negative",
			fake:     &fakeMigrate{},
			run:      func(m *Migrator) error { return m.Force(-1) },
			wantCode: "INVALID_VERSION",
		},
		{
			name:     "force error",
			fake:     &fakeMigrate{forceErr: boom},
			run:      func(m *Migrator) error { return m.Force(1) },
			wantCode: "MIGRATION_FORCE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(&Migrator{m: tt.fake})
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestMigrator_Force(t *testing.T) {
	fake := &fakeMigrate{}
	require.NoError(t, (&Migrator{m: fake}).Force(2))
	assert.Equal(t, 2, fake.forced)
}

func TestMigrator_Version(t *testing.T) {
	v, dirty, err := (&Migrator{m: &fakeMigrate{version: 2, dirty: true}}).Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.True(t, dirty)

	v, dirty, err = (&Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}).Version()
	require.NoError(t, err, "a fresh database is version 0")
	assert.Zero(t, v)
	assert.False(t, dirty)

	_, _, err = (&Migrator{m: &fakeMigrate{versionErr: errors.New("connection lost")}}).Version()
	errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
}

func TestMigrator_Close(t *testing.T) {
	require.NoError(t, (&Migrator{m: &fakeMigrate{}}).Close())

	err := (&Migrator{m: &fakeMigrate{closeSourceErr: errors.New("src")}}).Close()
	errutil.AssertErrorContext(t, err, "component", "source")

	err = (&Migrator{m: &fakeMigrate{closeDBErr: errors.New("db")}}).Close()
	errutil.AssertErrorContext(t, err, "component", "database")

	err = (&Migrator{m: &fakeMigrate{closeSourceErr: errors.New("src gone"), closeDBErr: errors.New("db gone")}}).Close()
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	errutil.AssertErrorContext(t, err, "component", "both")
	assert.Contains(t, err.Error(), "src gone")
	assert.Contains(t, err.Error(), "db gone")
}

func TestMigrator_Pending(t *testing.T) {
	pending, err := (&Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}).Pending()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, pending)

	pending, err = (&Migrator{m: &fakeMigrate{version: 1}}).Pending()
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, pending)

	pending, err = (&Migrator{m: &fakeMigrate{version: 2}}).Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = (&Migrator{m: &fakeMigrate{versionErr: errors.New("connection lost")}}).Pending()
	require.Error(t, err)
}

func TestScanVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/000002_b.up.sql":   {},
		"migrations/000002_b.down.sql": {},
		"migrations/000001_a.up.sql":   {},
		"migrations/000010_c.up.sql":   {},
		"migrations/README.md":         {},
		"migrations/oops.up.sql":       {},
	}
	got, err := scanVersions(fsys)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 10}, got)

	_, err = scanVersions(fstest.MapFS{})
	errutil.AssertErrorCode(t, err, "MIGRATION_LIST_FAILED")
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(2)
	require.NoError(t, err)
	assert.Equal(t, "000002_create_credentials", name)

	name, err = MigrationName(99)
	require.NoError(t, err)
	assert.Empty(t, name)
}
