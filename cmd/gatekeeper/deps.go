// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/internal/auth/postgres"
	authredis "github.com/gatekeeper/gatekeeper/internal/auth/redis"
	"github.com/gatekeeper/gatekeeper/internal/config"
	"github.com/gatekeeper/gatekeeper/internal/httpapi"
	"github.com/gatekeeper/gatekeeper/internal/oauth"
	"github.com/gatekeeper/gatekeeper/internal/observability"
	"github.com/gatekeeper/gatekeeper/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseFactory opens the connection pool.
	// Default: store.OpenPool
	DatabaseFactory func(ctx context.Context, url string, cfg store.PoolConfig) (Database, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// RedisFactory connects to Redis for the redis revocation backend.
	// Default: authredis.NewClient
	RedisFactory func(ctx context.Context, opts authredis.Options) (goredis.UniversalClient, error)

	// NotifierFactory builds the delivery path for passcode emails.
	// Default: newNotifier
	NotifierFactory func(cfg config.NotifyConfig) (auth.Notifier, func() error, error)

	// IdentityProviderFactory builds the Google provider when configured.
	// Default: oauth.NewGoogleProvider
	IdentityProviderFactory func(cfg oauth.GoogleConfig) (IdentityProvider, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// APIServerFactory creates the HTTP API server.
	// Default: httpapi.New
	APIServerFactory func(svc *auth.Service, opts ...httpapi.Option) (APIServer, error)
}

// Database wraps the pool methods used by the commands. *pgxpool.Pool
// satisfies it.
type Database interface {
	postgres.DB
	store.Pinger
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// IdentityProvider is an auth.IdentityProvider that can also start the
// browser redirect.
type IdentityProvider interface {
	auth.IdentityProvider
	httpapi.Redirector
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	Registry() *prometheus.Registry
}

// APIServer wraps the methods used from httpapi.Server.
type APIServer interface {
	Start(addr string) (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.DatabaseFactory == nil {
		d.DatabaseFactory = func(ctx context.Context, url string, cfg store.PoolConfig) (Database, error) {
			return store.OpenPool(ctx, url, cfg)
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if d.RedisFactory == nil {
		d.RedisFactory = func(ctx context.Context, opts authredis.Options) (goredis.UniversalClient, error) {
			return authredis.NewClient(ctx, opts)
		}
	}
	if d.NotifierFactory == nil {
		d.NotifierFactory = newNotifier
	}
	if d.IdentityProviderFactory == nil {
		d.IdentityProviderFactory = func(cfg oauth.GoogleConfig) (IdentityProvider, error) {
			return oauth.NewGoogleProvider(cfg)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if d.APIServerFactory == nil {
		d.APIServerFactory = func(svc *auth.Service, opts ...httpapi.Option) (APIServer, error) {
			return httpapi.New(svc, opts...)
		}
	}
	return d
}
