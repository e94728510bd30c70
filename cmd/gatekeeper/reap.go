// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeeper/gatekeeper/internal/config"
	"github.com/gatekeeper/gatekeeper/internal/reaper"
)

// NewReapCmd creates the reap subcommand.
func NewReapCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete expired passcodes and revocation records once",
		Long: `Run a single cleanup sweep and exit. Useful from an external scheduler
when serve runs with --reap-schedule "".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(contextOf(cmd), timeout)
			defer cancel()
			return runReapWithDeps(ctx, cfg, cmd, nil)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}

func runReapWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("field", "database.url").Errorf("DATABASE_URL is required")
	}

	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, cfg.PoolConfig())
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	st, err := openStores(ctx, cfg, deps, db)
	if err != nil {
		return err
	}
	defer st.close()

	r, err := st.reaper(reaper.WithLogger(slog.Default()))
	if err != nil {
		return err
	}

	var failed error
	for _, res := range r.Sweep(ctx) {
		if res.Err != nil {
			failed = oops.With("task", res.Name).Wrap(res.Err)
			continue
		}
		cmd.Printf("%s: deleted %d\n", res.Name, res.Deleted)
	}
	return failed
}
