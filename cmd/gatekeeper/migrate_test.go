// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

type recordingMigrator struct {
	fakeMigrator
	steps   []int
	forced  []int
	pending []uint
	dirty   bool
}

func (m *recordingMigrator) Steps(n int) error                  { m.steps = append(m.steps, n); return nil }
func (m *recordingMigrator) Force(v int) error                  { m.forced = append(m.forced, v); return nil }
func (m *recordingMigrator) PendingMigrations() ([]uint, error) { return m.pending, nil }
func (m *recordingMigrator) AppliedMigrations() ([]uint, error) { return []uint{1}, nil }
func (m *recordingMigrator) Version() (uint, bool, error)       { return 1, m.dirty, nil }

func runMigrate(t *testing.T, m Migrator, args ...string) (string, error) {
	t.Helper()
	configFile = ""

	root := NewRootCmd()
	for _, c := range root.Commands() {
		if c.Name() == "migrate" {
			root.RemoveCommand(c)
		}
	}
	root.AddCommand(newMigrateCmd(&ServeDeps{
		MigratorFactory: func(string) (Migrator, error) { return m, nil },
	}))

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(append([]string{"migrate", "--env-file", "", "--log-format", "text"}, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestMigrateCmd_Subcommands(t *testing.T) {
	cmd := NewMigrateCmd()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"up", "down", "status", "force"}, names)
}

func TestMigrateCmd_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := runMigrate(t, &recordingMigrator{}, "up")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestMigrateCmd_Up(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gk")
	m := &recordingMigrator{}

	out, err := runMigrate(t, m, "up")
	require.NoError(t, err)
	assert.Equal(t, 1, m.upCalls)
	assert.True(t, m.closed)
	assert.Contains(t, out, "Migrations completed successfully")
}

func TestMigrateCmd_UpFailure(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gk")
	m := &recordingMigrator{}
	m.upErr = errors.New("syntax error at or near")

	_, err := runMigrate(t, m, "up")
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	assert.True(t, m.closed, "migrator closed on failure")
}

func TestMigrateCmd_Down(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gk")

	m := &recordingMigrator{}
	out, err := runMigrate(t, m, "down", "2")
	require.NoError(t, err)
	assert.Equal(t, []int{-2}, m.steps)
	assert.Contains(t, out, "Rolled back 2 migration(s)")

	_, err = runMigrate(t, &recordingMigrator{}, "down", "zero")
	errutil.AssertErrorCode(t, err, "INVALID_ARGUMENT")
}

func TestMigrateCmd_Status(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gk")

	out, err := runMigrate(t, &recordingMigrator{dirty: true, pending: []uint{2, 999}}, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 1 (dirty)")
	assert.Contains(t, out, "Applied: 1")
	assert.Contains(t, out, "000999 unknown")

	out, err = runMigrate(t, &recordingMigrator{}, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending migrations")
}

func TestMigrateCmd_Force(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gk")
	m := &recordingMigrator{}

	_, err := runMigrate(t, m, "force", "3")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, m.forced)

	_, err = runMigrate(t, m, "force")
	require.Error(t, err)
}

