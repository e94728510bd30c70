// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"log/slog"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeeper/gatekeeper/internal/store"
)

// NewMigrateCmd creates the migrate subcommand and its children.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(nil)
}

func newMigrateCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back or inspect PostgreSQL schema migrations.`,
	}

	withMigrator := func(fn func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return oops.Code("CONFIG_INVALID").With("field", "database.url").Errorf("DATABASE_URL is required")
			}
			m, err := deps.withDefaults().MigratorFactory(cfg.Database.URL)
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
			}
			defer func() {
				if err := m.Close(); err != nil {
					slog.Warn("error closing migrator", "error", err)
				}
			}()
			return fn(cmd, m, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			cmd.Println("Running migrations...")
			if err := m.Up(); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
			}
			cmd.Println("Migrations completed successfully")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (all, or the given number of steps)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			if len(args) == 0 {
				if err := m.Down(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
				}
				cmd.Println("All migrations rolled back")
				return nil
			}
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return oops.Code("INVALID_ARGUMENT").With("steps", args[0]).Errorf("steps must be a positive integer")
			}
			if err := m.Steps(-n); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "down").With("steps", n).Wrap(err)
			}
			cmd.Printf("Rolled back %d migration(s)\n", n)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
			}
			applied, err := m.AppliedMigrations()
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "applied").Wrap(err)
			}
			pending, err := m.PendingMigrations()
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "pending").Wrap(err)
			}
			cmd.Printf("Current version: %d", v)
			if dirty {
				cmd.Print(" (dirty)")
			}
			cmd.Println()
			cmd.Printf("Applied: %d\n", len(applied))
			if len(pending) == 0 {
				cmd.Println("No pending migrations")
				return nil
			}
			cmd.Println("Pending:")
			for _, p := range pending {
				name, err := store.MigrationName(p)
				if err != nil || name == "" {
					name = "unknown"
				}
				cmd.Printf("  %06d %s\n", p, name)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark the schema as being at version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_ARGUMENT").With("version", args[0]).Errorf("version must be an integer")
			}
			if err := m.Force(v); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "force").Wrap(err)
			}
			cmd.Printf("Forced version %d\n", v)
			return nil
		}),
	})

	return cmd
}

// migrateUp applies pending migrations before serve opens its pool.
func migrateUp(deps *ServeDeps, url string) error {
	m, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			slog.Warn("error closing migrator", "error", err)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}
