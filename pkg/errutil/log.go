// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package errutil provides helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, msg, err)
}

// LogErrorContext is LogError with a context, so handlers that read the
// context (trace ids, request ids) can enrich the record.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(ctx, msg, Attrs(err)...)
}

// Attrs returns the structured attributes describing err.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}
