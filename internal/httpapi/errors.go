// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

var kindStatus = map[auth.Kind]int{
	auth.KindValidation:         http.StatusBadRequest,
	auth.KindNotFound:           http.StatusNotFound,
	auth.KindInvalidCredentials: http.StatusUnauthorized,
	auth.KindInvalidOTP:         http.StatusBadRequest,
	auth.KindConflict:           http.StatusConflict,
	auth.KindUnauthorized:       http.StatusUnauthorized,
	auth.KindForbidden:          http.StatusForbidden,
	auth.KindRevoked:            http.StatusUnauthorized,
	auth.KindInternal:           http.StatusInternalServerError,
}

// StatusFor returns the HTTP status used for an error of kind k.
func StatusFor(k auth.Kind) int {
	if status, ok := kindStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// handleError renders err as an ErrorResponse. Internal errors are logged
// with their full context; the client only sees the public message.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := s.describe(err, c)
	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		s.logger.DebugContext(c.Request().Context(), "error response not written", "error", writeErr)
	}
}

func (s *Server) describe(err error, c echo.Context) (int, ErrorResponse) {
	var invalid *invalidBody
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: invalid.fields}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg := http.StatusText(httpErr.Code)
		if m, ok := httpErr.Message.(string); ok && m != "" {
			msg = m
		}
		return httpErr.Code, ErrorResponse{Error: msg}
	}

	kind := auth.KindOf(err)
	if kind == auth.KindInternal {
		errutil.LogErrorContext(c.Request().Context(), s.logger, "request failed", err)
	}
	return StatusFor(kind), ErrorResponse{Error: auth.PublicMessage(err)}
}
