// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package notify

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultQueue is the durable queue carrying outbound email.
const DefaultQueue = "gatekeeper.email"

// Channel is the subset of *amqp.Channel used by AMQPSink and Consumer.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Dialer opens a channel on a fresh connection. The returned closer closes
// the connection.
type Dialer func(url string) (Channel, io.Closer, error)

// DialAMQP is the production Dialer.
func DialAMQP(url string) (Channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, oops.Code("AMQP_DIAL_FAILED").Wrap(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, oops.Code("AMQP_CHANNEL_FAILED").Wrap(err)
	}
	return ch, conn, nil
}

func declare(ch Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return oops.Code("AMQP_DECLARE_FAILED").With("queue", queue).Wrap(err)
	}
	return nil
}

// AMQPOption configures an AMQPSink.
type AMQPOption func(*AMQPSink)

// WithDialer replaces DialAMQP.
func WithDialer(d Dialer) AMQPOption {
	return func(s *AMQPSink) { s.dial = d }
}

// WithQueue overrides DefaultQueue.
func WithQueue(name string) AMQPOption {
	return func(s *AMQPSink) { s.queue = name }
}

// WithPublishRetries bounds how often a failed publish is retried on a
// fresh connection.
func WithPublishRetries(n uint64, base time.Duration) AMQPOption {
	return func(s *AMQPSink) {
		s.retries = n
		s.base = base
	}
}

// AMQPSink publishes persistent JSON messages to a durable queue. The
// connection is opened lazily and re-dialed after a failed publish.
type AMQPSink struct {
	url     string
	queue   string
	dial    Dialer
	retries uint64
	base    time.Duration

	mu     sync.Mutex
	ch     Channel
	closer io.Closer
}

// NewAMQPSink creates an AMQPSink for url.
func NewAMQPSink(url string, opts ...AMQPOption) (*AMQPSink, error) {
	if url == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("amqp url is required")
	}
	s := &AMQPSink{
		url:     url,
		queue:   DefaultQueue,
		dial:    DialAMQP,
		retries: 3,
		base:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// channel returns the open channel, dialing if needed. Callers hold s.mu.
func (s *AMQPSink) channel() (Channel, error) {
	if s.ch != nil {
		return s.ch, nil
	}
	ch, closer, err := s.dial(s.url)
	if err != nil {
		return nil, err
	}
	if err := declare(ch, s.queue); err != nil {
		_ = ch.Close()
		_ = closer.Close()
		return nil, err
	}
	s.ch, s.closer = ch, closer
	return ch, nil
}

// reset drops the current connection. Callers hold s.mu.
func (s *AMQPSink) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.closer != nil {
		_ = s.closer.Close()
	}
	s.ch, s.closer = nil, nil
}

// Send enqueues the message.
func (s *AMQPSink) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(Message{To: to, Subject: subject, Body: body})
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").Wrap(err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := retry.WithMaxRetries(s.retries, retry.NewExponential(s.base))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		ch, err := s.channel()
		if err != nil {
			return retry.RetryableError(err)
		}
		if err := ch.PublishWithContext(ctx, "", s.queue, false, false, pub); err != nil {
			s.reset()
			return retry.RetryableError(oops.Code("AMQP_PUBLISH_FAILED").With("queue", s.queue).Wrap(err))
		}
		return nil
	})
	if err != nil {
		return oops.With("to", to).Wrap(err)
	}
	return nil
}

// Close closes the connection, if open.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}
