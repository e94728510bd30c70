// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/internal/config"
	"github.com/gatekeeper/gatekeeper/internal/notify"
)

// MailerDeps contains injectable dependencies for the mailer command.
type MailerDeps struct {
	// DeliveryFactory builds the sink that actually sends mail.
	// Default: notify.NewBrevoSink, or notify.NewLogSink without an API key
	DeliveryFactory func(cfg config.BrevoConfig) (auth.Notifier, error)

	// ConsumerFactory creates the queue consumer.
	// Default: notify.NewConsumer
	ConsumerFactory func(cfg notify.ConsumerConfig, deliver auth.Notifier) (Runner, error)
}

// Runner runs until ctx ends.
type Runner interface {
	Run(ctx context.Context) error
}

// NewMailerCmd creates the mailer subcommand.
func NewMailerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mailer",
		Short: "Deliver queued emails",
		Long: `Consume the AMQP email queue filled by serve (notify.backend: amqp) and
deliver each message through Brevo. Without a Brevo API key messages are
logged instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMailerWithDeps(ctx, cfg, cmd, nil)
		},
	}
}

func runMailerWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *MailerDeps) error {
	if deps == nil {
		deps = &MailerDeps{}
	}
	if deps.DeliveryFactory == nil {
		deps.DeliveryFactory = func(bc config.BrevoConfig) (auth.Notifier, error) {
			if bc.APIKey == "" {
				slog.Warn("no brevo api key configured, logging messages instead of sending")
				return notify.NewLogSink(slog.Default()), nil
			}
			return notify.NewBrevoSink(notify.BrevoConfig{
				APIKey:      bc.APIKey,
				SenderEmail: bc.SenderEmail,
				SenderName:  bc.SenderName,
				URL:         bc.URL,
			})
		}
	}
	if deps.ConsumerFactory == nil {
		deps.ConsumerFactory = func(cc notify.ConsumerConfig, deliver auth.Notifier) (Runner, error) {
			return notify.NewConsumer(cc, deliver)
		}
	}

	if cfg.Notify.AMQP.URL == "" {
		return oops.Code("CONFIG_INVALID").With("field", "notify.amqp.url").Errorf("AMQP_URL is required")
	}

	deliver, err := deps.DeliveryFactory(cfg.Notify.Brevo)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("component", "delivery").Wrap(err)
	}
	consumer, err := deps.ConsumerFactory(notify.ConsumerConfig{
		URL:      cfg.Notify.AMQP.URL,
		Queue:    cfg.Notify.AMQP.Queue,
		Prefetch: cfg.Notify.AMQP.Prefetch,
		Logger:   slog.Default(),
	}, deliver)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("component", "consumer").Wrap(err)
	}

	cmd.Println("Mailer started")
	slog.Info("mailer consuming", "queue", cfg.Notify.AMQP.Queue)
	if err := consumer.Run(ctx); err != nil {
		return oops.Code("MAILER_FAILED").Wrap(err)
	}
	slog.Info("mailer stopped")
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
