// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories when a uniqueness constraint rejects a write.
var ErrDuplicate = errors.New("duplicate")

// Error codes attached to errors returned by Service.
const (
	CodeValidationFailed   = "AUTH_VALIDATION_FAILED"
	CodeNotFound           = "AUTH_NOT_FOUND"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidOTP         = "AUTH_INVALID_OTP"
	CodeConflict           = "AUTH_CONFLICT"
	CodeUnauthorized       = "AUTH_UNAUTHORIZED"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeForbidden          = "AUTH_FORBIDDEN"
	CodeTokenRevoked       = "AUTH_TOKEN_REVOKED"
	CodeInternal           = "AUTH_INTERNAL"
)

// Kind classifies an error for callers that need to pick a response.
type Kind int

// Error kinds. KindInternal is the zero value so unclassified errors are internal.
const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindInvalidCredentials
	KindInvalidOTP
	KindConflict
	KindUnauthorized
	KindForbidden
	KindRevoked
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindValidation:         "validation",
	KindNotFound:           "not_found",
	KindInvalidCredentials: "invalid_credentials",
	KindInvalidOTP:         "invalid_otp",
	KindConflict:           "conflict",
	KindUnauthorized:       "unauthorized",
	KindForbidden:          "forbidden",
	KindRevoked:            "revoked",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var codeKinds = map[string]Kind{
	CodeValidationFailed:   KindValidation,
	CodeNotFound:           KindNotFound,
	CodeInvalidCredentials: KindInvalidCredentials,
	CodeInvalidOTP:         KindInvalidOTP,
	CodeConflict:           KindConflict,
	CodeUnauthorized:       KindUnauthorized,
	CodeInvalidToken:       KindUnauthorized,
	CodeForbidden:          KindForbidden,
	CodeTokenRevoked:       KindRevoked,
}

// KindOf classifies err by its oops code. Errors without a known code are
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindInternal
	}
	code, ok := oopsErr.Code().(string)
	if !ok {
		return KindInternal
	}
	if kind, found := codeKinds[code]; found {
		return kind
	}
	return KindInternal
}

// PublicMessage returns the message that is safe to show to an unauthenticated
// client for err. Validation errors carry their own message; all other kinds use
// a fixed string so internal detail never leaks.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindValidation:
		if oopsErr, ok := oops.AsOops(err); ok {
			if pub := oopsErr.Public(); pub != "" {
				return pub
			}
		}
		return "Validation failed"
	case KindNotFound:
		return "Not found"
	case KindInvalidCredentials:
		return "Invalid email or password"
	case KindInvalidOTP:
		return "Invalid or expired OTP"
	case KindConflict:
		return "Email or username already taken"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Insufficient permissions"
	case KindRevoked:
		return "Token has been revoked"
	default:
		return "Internal server error"
	}
}

func validationError(field, msg string) error {
	return oops.Code(CodeValidationFailed).
		With("field", field).
		Public(msg).
		Errorf("%s", msg)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func invalidOTP() error {
	return oops.Code(CodeInvalidOTP).Errorf("invalid or expired OTP")
}

func unauthorized(reason string) error {
	return oops.Code(CodeUnauthorized).Errorf("unauthorized: %s", reason)
}

func internal(operation string, err error) error {
	return oops.Code(CodeInternal).With("operation", operation).Wrap(err)
}
