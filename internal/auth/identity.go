// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"strings"

	"github.com/samber/oops"
)

const bearerPrefix = "Bearer "

// BearerToken extracts the token from an Authorization header value of the
// form "Bearer <token>". It returns "" when the header is absent or malformed.
func BearerToken(header string) string {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// Authenticator resolves the caller identity from an Authorization header
// using access tokens only.
type Authenticator struct {
	verifier *Verifier
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(verifier *Verifier) (*Authenticator, error) {
	if verifier == nil {
		return nil, oops.Errorf("verifier is required")
	}
	return &Authenticator{verifier: verifier}, nil
}

// TryAuthenticate returns the caller identity for optional-auth endpoints.
// It never fails; a missing or invalid header yields (nil, false).
func (a *Authenticator) TryAuthenticate(header string) (*TokenPayload, bool) {
	token := BearerToken(header)
	if token == "" {
		return nil, false
	}
	payload, err := a.verifier.VerifyAccess(token)
	if err != nil {
		return nil, false
	}
	return payload, true
}

// RequireAuthenticate returns the caller identity or an Unauthorized error.
func (a *Authenticator) RequireAuthenticate(header string) (*TokenPayload, error) {
	token := BearerToken(header)
	if token == "" {
		return nil, unauthorized("missing bearer token")
	}
	payload, err := a.verifier.VerifyAccess(token)
	if err != nil {
		return nil, unauthorized("invalid access token")
	}
	return payload, nil
}

// RequireRole authenticates the caller and fails with Forbidden unless the
// caller's role implies access to required.
func (a *Authenticator) RequireRole(header string, required Role) (*TokenPayload, error) {
	payload, err := a.RequireAuthenticate(header)
	if err != nil {
		return nil, err
	}
	if !payload.Role.ImpliesAccessTo(required) {
		return nil, oops.Code(CodeForbidden).
			With("role", payload.Role.String()).
			With("required", required.String()).
			Errorf("insufficient permissions")
	}
	return payload, nil
}
