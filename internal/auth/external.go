// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ExternalLogin exchanges an identity-provider authorization code and starts
// a session. An unknown email is provisioned as a password-less account with
// the default role.
func (s *Service) ExternalLogin(ctx context.Context, code string) (session *Session, account *Account, err error) {
	defer func() { observe("external_login", err) }()

	if s.identity == nil {
		return nil, nil, oops.Code(CodeInternal).Errorf("identity provider not configured")
	}
	if code == "" {
		return nil, nil, validationError("code", "Authorization code is required")
	}

	ident, err := s.identity.Exchange(ctx, code)
	if err != nil {
		s.logger.WarnContext(ctx, "identity provider exchange failed", "error", err)
		return nil, nil, unauthorized("identity provider exchange failed")
	}
	if ident.Email == "" {
		return nil, nil, unauthorized("identity provider returned no email")
	}
	// An unverified address proves nothing about who owns the mailbox, so it
	// can neither claim an existing account nor create one.
	if !ident.VerifiedEmail {
		s.logger.WarnContext(ctx, "identity provider email not verified", "email", NormalizeEmail(ident.Email))
		return nil, nil, unauthorized("identity provider email not verified")
	}

	account, err = s.findOrProvision(ctx, ident)
	if err != nil {
		return nil, nil, err
	}

	session, err = s.issuer.IssuePair(account.ID, account.Email, account.Role)
	if err != nil {
		return nil, nil, internal("issue tokens", err)
	}
	return session, account, nil
}

func (s *Service) findOrProvision(ctx context.Context, ident *ExternalIdentity) (*Account, error) {
	email := NormalizeEmail(ident.Email)

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err == nil {
		if !existing.EmailVerified {
			if err := s.accounts.MarkEmailVerified(ctx, existing.ID); err != nil {
				return nil, internal("mark email verified", err)
			}
			existing.EmailVerified = true
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, internal("get account by email", err)
	}

	account, err := NewAccount(DeriveUsername(ident.Name, email), email, "")
	if err != nil {
		return nil, internal("build external account", err)
	}
	account.EmailVerified = true
	account.DisplayName = ident.Name
	account.PictureURL = ident.PictureURL

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost a race with a concurrent provision for the same email.
			if again, getErr := s.accounts.GetByEmail(ctx, email); getErr == nil {
				return again, nil
			}
			return nil, oops.Code(CodeConflict).With("email", email).Errorf("email or username already taken")
		}
		return nil, internal("create external account", err)
	}

	s.logger.InfoContext(ctx, "external account provisioned", "account_id", account.ID.String())
	return account, nil
}

// DeriveUsername builds a valid, collision-resistant username from a display
// name, falling back to the email's local part.
func DeriveUsername(name, email string) string {
	base := usernameStem(name)
	if base == "" {
		local, _, _ := strings.Cut(email, "@")
		base = usernameStem(local)
	}
	if base == "" || !unicode.IsLetter(rune(base[0])) {
		base = "u" + base
	}
	if len(base) > 20 {
		base = base[:20]
	}
	suffix := strings.ToLower(ulid.Make().String())
	return base + "_" + suffix[len(suffix)-6:]
}

func usernameStem(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
