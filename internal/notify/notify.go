// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package notify delivers account emails. Sinks implement auth.Notifier:
// LogSink writes to the log, BrevoSink calls the Brevo transactional API,
// and AMQPSink queues messages for a Consumer to deliver out of band.
package notify

import (
	"context"
	"log/slog"
)

// Message is one outbound email. It is also the AMQP wire format.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// LogSink logs messages instead of sending them. Bodies, which carry
// one-time codes, are only logged at debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Send logs the message and never fails.
func (s *LogSink) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "email suppressed", "to", to, "subject", subject)
	s.logger.DebugContext(ctx, "email body", "to", to, "body", body)
	return nil
}
