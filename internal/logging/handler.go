// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package logging builds the process slog.Logger. Records carry the service
// name, build version and OpenTelemetry trace context, and attributes that
// name a credential are redacted.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Redacted replaces the value of sensitive attributes.
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach a log sink.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"new_password":  {},
	"code":          {},
	"otp":           {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"secret":        {},
	"authorization": {},
}

// traceHandler wraps a slog.Handler to add service metadata and trace context.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithAttrs(attrs),
		service: h.service,
		version: h.version,
	}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// ParseLevel maps "debug", "info", "warn" or "error" to a slog.Level. An
// empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, oops.Code("LOG_LEVEL_INVALID").With("level", s).Wrap(err)
	}
	return level, nil
}

// Setup creates a configured slog.Logger.
// format is "json" or "text" (json when empty). A nil w writes to os.Stderr.
func Setup(service, version, format string, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}

	var base slog.Handler
	if format == "text" {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	return slog.New(&traceHandler{
		handler: base,
		service: service,
		version: version,
	})
}

// SetDefault configures the default logger and returns it.
func SetDefault(service, version, format string, level slog.Level) *slog.Logger {
	logger := Setup(service, version, format, level, nil)
	slog.SetDefault(logger)
	return logger
}
