// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	// pgx/v5 driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	versionsOnce sync.Once
	versions     []uint
	versionsErr  error
)

// migrateIface is the subset of *migrate.Migrate the Migrator drives.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m migrateIface
}

// migrateURL rewrites postgres:// and postgresql:// DSNs to the pgx5://
// scheme registered by the pgx/v5 migrate driver.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// NewMigrator connects to databaseURL and prepares the embedded migrations.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "open embedded migrations").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "connect migrator").Wrap(err)
	}
	return &Migrator{m: m}, nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	if err := ignoreNoChange(m.m.Up()); err != nil {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back every migration. All auth data is dropped.
func (m *Migrator) Down() error {
	if err := ignoreNoChange(m.m.Down()); err != nil {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps migrates n steps up (n > 0) or down (n < 0).
func (m *Migrator) Steps(n int) error {
	if err := ignoreNoChange(m.m.Steps(n)); err != nil {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version reports the applied version and whether the last migration left
// the schema dirty. A fresh database reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything. It is the
// recovery path after a dirty migration was repaired by hand.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	switch {
	case srcErr != nil && dbErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").
			With("component", "both").
			Errorf("source: %v; database: %v", srcErr, dbErr)
	case srcErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	case dbErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}

// PendingMigrations lists versions Up would apply, ascending.
func (m *Migrator) PendingMigrations() ([]uint, error) {
	current, _, err := m.Version()
	if err != nil {
		return nil, oops.With("operation", "list pending migrations").Wrap(err)
	}
	all, err := migrationVersions()
	if err != nil {
		return nil, oops.With("operation", "list pending migrations").Wrap(err)
	}
	return slices.DeleteFunc(all, func(v uint) bool { return v <= current }), nil
}

// AppliedMigrations lists versions already applied, ascending.
func (m *Migrator) AppliedMigrations() ([]uint, error) {
	current, _, err := m.Version()
	if err != nil {
		return nil, oops.With("operation", "list applied migrations").Wrap(err)
	}
	if current == 0 {
		return nil, nil
	}
	all, err := migrationVersions()
	if err != nil {
		return nil, oops.With("operation", "list applied migrations").Wrap(err)
	}
	return slices.DeleteFunc(all, func(v uint) bool { return v > current }), nil
}

// MigrationName returns the NNNNNN_name stem for version, or "" when no
// embedded migration has that version.
func MigrationName(version uint) (string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return "", oops.Code("MIGRATION_READ_FAILED").With("operation", "read migrations dir").Wrap(err)
	}
	prefix := fmt.Sprintf("%06d_", version)
	for _, entry := range entries {
		if name, ok := strings.CutSuffix(entry.Name(), ".up.sql"); ok && strings.HasPrefix(name, prefix) {
			return name, nil
		}
	}
	return "", nil
}

// migrationVersions returns a fresh copy of the sorted embedded versions.
func migrationVersions() ([]uint, error) {
	versionsOnce.Do(func() {
		versions, versionsErr = scanMigrationVersions()
	})
	if versionsErr != nil {
		return nil, versionsErr
	}
	return slices.Clone(versions), nil
}

func scanMigrationVersions() ([]uint, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	found := make([]uint, 0, len(entries)/2)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var v uint
		if _, err := fmt.Sscanf(name, "%06d", &v); err != nil {
			slog.Warn("skipping migration with unexpected name",
				"filename", name,
				"expected_format", "NNNNNN_name.up.sql",
				"error", err)
			continue
		}
		found = append(found, v)
	}
	slices.Sort(found)
	return slices.Compact(found), nil
}
