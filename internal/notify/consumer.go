// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	URL      string
	Queue    string
	Prefetch int
	// MaxBackoff caps the reconnect delay. Zero means 30s.
	MaxBackoff time.Duration
	Dialer     Dialer
	Logger     *slog.Logger
}

// Consumer drains the email queue into a delivering Notifier.
type Consumer struct {
	cfg     ConsumerConfig
	deliver auth.Notifier
}

// NewConsumer creates a Consumer delivering through deliver.
func NewConsumer(cfg ConsumerConfig, deliver auth.Notifier) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("amqp url is required")
	}
	if deliver == nil {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("delivery sink is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DialAMQP
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Consumer{cfg: cfg, deliver: deliver}, nil
}

// Run consumes until ctx is cancelled, reconnecting with capped exponential
// backoff whenever the broker connection drops. It returns nil on
// cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	b := retry.WithCappedDuration(c.cfg.MaxBackoff, retry.NewExponential(time.Second))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		errutil.LogErrorContext(ctx, c.cfg.Logger, "mail consumer disconnected", err)
		return retry.RetryableError(err)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// session runs one connection's worth of consumption.
func (c *Consumer) session(ctx context.Context) error {
	ch, closer, err := c.cfg.Dialer(c.cfg.URL)
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Close()
		_ = closer.Close()
	}()

	if err := declare(ch, c.cfg.Queue); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return oops.Code("AMQP_QOS_FAILED").Wrap(err)
	}
	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return oops.Code("AMQP_CONSUME_FAILED").With("queue", c.cfg.Queue).Wrap(err)
	}
	c.cfg.Logger.InfoContext(ctx, "mail consumer connected", "queue", c.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return oops.Code("AMQP_DELIVERIES_CLOSED").Errorf("deliveries channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle delivers one message. Undecodable or undeliverable messages are
// rejected without requeue so a poison message cannot loop.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.To == "" {
		c.cfg.Logger.WarnContext(ctx, "dropping malformed mail message", "delivery_tag", d.DeliveryTag)
		_ = d.Nack(false, false)
		return
	}
	if err := c.deliver.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		errutil.LogErrorContext(ctx, c.cfg.Logger, "mail delivery failed", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
