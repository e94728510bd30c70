// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import "context"

// Notifier delivers a message to an email address. Delivery is
// fire-and-forget from the caller's perspective: a failure is logged and
// never rolls back persisted state.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ExternalIdentity is the profile returned by an identity provider.
type ExternalIdentity struct {
	Email         string
	Name          string
	PictureURL    string
	VerifiedEmail bool
}

// IdentityProvider exchanges an authorization code for a verified profile.
type IdentityProvider interface {
	Exchange(ctx context.Context, code string) (*ExternalIdentity, error)
}
