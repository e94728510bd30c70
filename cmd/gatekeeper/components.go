// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/internal/auth/postgres"
	authredis "github.com/gatekeeper/gatekeeper/internal/auth/redis"
	"github.com/gatekeeper/gatekeeper/internal/config"
	"github.com/gatekeeper/gatekeeper/internal/notify"
	"github.com/gatekeeper/gatekeeper/internal/reaper"
	"github.com/gatekeeper/gatekeeper/internal/store"
)

const readinessTimeout = 2 * time.Second

// stores holds the persistence-backed auth components shared by serve and
// reap.
type stores struct {
	accounts *postgres.AccountRepository
	otps     *auth.OTPService
	ledger   *auth.Ledger
	checks   []store.Pinger
	closers  []func() error
}

// close releases resources in reverse order of acquisition.
func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("error releasing resource", "error", err)
		}
	}
}

// ready reports whether every backing store answers a ping.
func (s *stores) ready() bool {
	for _, p := range s.checks {
		if !store.ReadinessCheck(p, readinessTimeout)() {
			return false
		}
	}
	return true
}

// reaper returns a Reaper over the stores' expiring records.
func (s *stores) reaper(opts ...reaper.Option) (*reaper.Reaper, error) {
	return reaper.New([]reaper.Task{
		{Name: "otps", Sweeper: s.otps},
		{Name: "revocations", Sweeper: s.ledger},
	}, opts...)
}

func openStores(ctx context.Context, cfg *config.Config, deps *ServeDeps, db Database) (*stores, error) {
	s := &stores{
		accounts: postgres.NewAccountRepository(db),
		checks:   []store.Pinger{db},
	}

	otps, err := auth.NewOTPService(postgres.NewOTPRepository(db),
		auth.WithOTPTTL(auth.PurposeSignup, cfg.OTP.SignupTTL),
		auth.WithOTPTTL(auth.PurposePasswordReset, cfg.OTP.ResetTTL),
	)
	if err != nil {
		return nil, oops.Code("STARTUP_FAILED").With("component", "otp service").Wrap(err)
	}
	s.otps = otps

	var revocations auth.RevocationStore
	switch cfg.Revocation.Backend {
	case config.BackendRedis:
		client, err := deps.RedisFactory(ctx, authredis.Options{
			Addr:     cfg.Revocation.Redis.Addr,
			Password: cfg.Revocation.Redis.Password,
			DB:       cfg.Revocation.Redis.DB,
		})
		if err != nil {
			return nil, oops.Code("STARTUP_FAILED").With("component", "redis").Wrap(err)
		}
		s.closers = append(s.closers, client.Close)

		rs, err := authredis.NewRevocationStore(client, cfg.Revocation.Redis.KeyPrefix)
		if err != nil {
			s.close()
			return nil, oops.Code("STARTUP_FAILED").With("component", "redis revocation store").Wrap(err)
		}
		revocations = rs
		s.checks = append(s.checks, rs)
	default:
		revocations = postgres.NewRevocationRepository(db)
	}

	ledger, err := auth.NewLedger(revocations, cfg.Tokens.RefreshTTL)
	if err != nil {
		s.close()
		return nil, oops.Code("STARTUP_FAILED").With("component", "revocation ledger").Wrap(err)
	}
	s.ledger = ledger

	slog.Info("stores ready", "revocation_backend", cfg.Revocation.Backend)
	return s, nil
}

// newNotifier builds the configured delivery path. The returned close
// function is never nil.
func newNotifier(cfg config.NotifyConfig) (auth.Notifier, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.NotifyBrevo:
		sink, err := notify.NewBrevoSink(notify.BrevoConfig{
			APIKey:      cfg.Brevo.APIKey,
			SenderEmail: cfg.Brevo.SenderEmail,
			SenderName:  cfg.Brevo.SenderName,
			URL:         cfg.Brevo.URL,
		})
		if err != nil {
			return nil, nil, err
		}
		return sink, noop, nil
	case config.NotifyAMQP:
		sink, err := notify.NewAMQPSink(cfg.AMQP.URL, notify.WithQueue(cfg.AMQP.Queue))
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case config.NotifyLog, "":
		return notify.NewLogSink(slog.Default()), noop, nil
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("field", "notify.backend").
			Errorf("unknown notify backend %q", cfg.Backend)
	}
}
