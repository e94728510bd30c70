// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/internal/config"
	"github.com/gatekeeper/gatekeeper/internal/httpapi"
	"github.com/gatekeeper/gatekeeper/internal/oauth"
	"github.com/gatekeeper/gatekeeper/internal/reaper"
	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API together with the metrics/health listener and the
scheduled cleanup of expired passcodes and revocation records.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the service until a signal arrives, a server fails
// or ctx ends. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("starting gatekeeper",
		"version", version,
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
	)

	if cfg.Database.AutoMigrate {
		if err := migrateUp(deps, cfg.Database.URL); err != nil {
			return err
		}
	}

	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, cfg.PoolConfig())
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()
	slog.Info("connected to database")

	st, err := openStores(ctx, cfg, deps, db)
	if err != nil {
		return err
	}
	defer st.close()

	notifier, closeNotifier, err := deps.NotifierFactory(cfg.Notify)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("component", "notifier").Wrap(err)
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			slog.Warn("error closing notifier", "error", err)
		}
	}()

	svcOpts := []auth.ServiceOption{
		auth.WithLogger(slog.Default()),
		auth.WithRefreshRotation(cfg.Tokens.RotateRefresh),
	}
	apiOpts := []httpapi.Option{
		httpapi.WithLogger(slog.Default()),
		httpapi.WithSecureCookies(cfg.HTTP.SecureCookies),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins...),
	}
	if cfg.Google.Enabled() {
		idp, err := deps.IdentityProviderFactory(oauth.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		})
		if err != nil {
			return oops.Code("STARTUP_FAILED").With("component", "google").Wrap(err)
		}
		svcOpts = append(svcOpts, auth.WithIdentityProvider(idp))
		apiOpts = append(apiOpts, httpapi.WithGoogle(idp))
		slog.Info("google sign-in enabled")
	}

	tokens := cfg.TokenConfig()
	issuer, err := auth.NewIssuer(tokens)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("component", "token issuer").Wrap(err)
	}
	verifier, err := auth.NewVerifier(tokens)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("component", "token verifier").Wrap(err)
	}

	svc, err := auth.NewService(auth.ServiceDeps{
		Accounts: st.accounts,
		OTPs:     st.otps,
		Hasher:   auth.NewArgon2idHasher(),
		Issuer:   issuer,
		Verifier: verifier,
		Ledger:   st.ledger,
		Notifier: notifier,
	}, svcOpts...)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("component", "auth service").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grace := cfg.HTTP.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), grace)
	}

	// Start observability server if configured
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, st.ready)
		if err := auth.RegisterMetrics(obsServer.Registry()); err != nil {
			return oops.Code("STARTUP_FAILED").With("component", "metrics").Wrap(err)
		}
		apiOpts = append(apiOpts, httpapi.WithMetrics(obsServer.Metrics()))

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("STARTUP_FAILED").With("component", "observability").Wrap(err)
		}
		defer func() {
			sctx, scancel := shutdownCtx()
			defer scancel()
			if err := obsServer.Stop(sctx); err != nil {
				slog.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	api, err := deps.APIServerFactory(svc, apiOpts...)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("component", "http api").Wrap(err)
	}
	apiErrChan, err := api.Start(cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("component", "http api").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "http-api")

	var sweeper *reaper.Reaper
	if cfg.Reaper.Schedule != "" {
		sweeper, err = st.reaper(reaper.WithLogger(slog.Default()))
		if err == nil {
			err = sweeper.Start(cfg.Reaper.Schedule)
		}
		if err != nil {
			sctx, scancel := shutdownCtx()
			defer scancel()
			if stopErr := api.Stop(sctx); stopErr != nil {
				slog.Warn("failed to stop http api during cleanup", "error", stopErr)
			}
			return err
		}
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Gatekeeper started")
	slog.Info("gatekeeper ready", "http_addr", api.Addr())

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")
	sctx, scancel := shutdownCtx()
	defer scancel()

	if err := api.Stop(sctx); err != nil {
		slog.Warn("error stopping http api", "error", err)
	}
	if sweeper != nil {
		if err := sweeper.Stop(sctx); err != nil {
			slog.Warn("error stopping reaper", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error arrives, the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			errutil.LogError(slog.Default(), "server error, triggering shutdown",
				oops.With("server", serverName).Wrap(err))
			cancel()
		}
	case <-ctx.Done():
	}
}
