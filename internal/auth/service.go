// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

// dummyPasswordHash is verified when the account does not exist or has no
// password so that login timing does not reveal which case occurred.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// ServiceDeps are the collaborators required by Service.
type ServiceDeps struct {
	Accounts AccountRepository
	OTPs     *OTPService
	Hasher   PasswordHasher
	Issuer   *Issuer
	Verifier *Verifier
	Ledger   *Ledger
	Notifier Notifier
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithRefreshRotation makes Refresh revoke the presented refresh token before
// issuing a new pair. Disabled by default, which lets earlier refresh tokens
// keep working until they expire.
func WithRefreshRotation(enabled bool) ServiceOption {
	return func(s *Service) { s.rotateRefresh = enabled }
}

// WithIdentityProvider enables ExternalLogin.
func WithIdentityProvider(idp IdentityProvider) ServiceOption {
	return func(s *Service) { s.identity = idp }
}

// WithClock overrides the time source used for admin statistics.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// Service orchestrates signup, verification, login, refresh, logout, password
// reset and administration. It is the only entry point callers use.
type Service struct {
	accounts AccountRepository
	otps     *OTPService
	hasher   PasswordHasher
	issuer   *Issuer
	verifier *Verifier
	ledger   *Ledger
	notifier Notifier
	auth     *Authenticator
	identity IdentityProvider
	logger   *slog.Logger
	now      func() time.Time

	rotateRefresh bool
}

// NewService creates a Service.
func NewService(deps ServiceDeps, opts ...ServiceOption) (*Service, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Errorf("accounts repository is required")
	case deps.OTPs == nil:
		return nil, oops.Errorf("otp service is required")
	case deps.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case deps.Issuer == nil:
		return nil, oops.Errorf("token issuer is required")
	case deps.Verifier == nil:
		return nil, oops.Errorf("token verifier is required")
	case deps.Ledger == nil:
		return nil, oops.Errorf("revocation ledger is required")
	case deps.Notifier == nil:
		return nil, oops.Errorf("notifier is required")
	}

	authenticator, err := NewAuthenticator(deps.Verifier)
	if err != nil {
		return nil, err
	}

	s := &Service{
		accounts: deps.Accounts,
		otps:     deps.OTPs,
		hasher:   deps.Hasher,
		issuer:   deps.Issuer,
		verifier: deps.Verifier,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		auth:     authenticator,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Errorf("logger must not be nil")
	}
	return s, nil
}

// Authenticator returns the access-token authenticator used by the service.
func (s *Service) Authenticator() *Authenticator {
	return s.auth
}

// requireAccess authenticates a raw access token.
func (s *Service) requireAccess(accessToken string) (*TokenPayload, error) {
	return s.auth.RequireAuthenticate(bearerPrefix + accessToken)
}

func (s *Service) notify(ctx context.Context, to, subject, body string) {
	if err := s.notifier.Send(ctx, to, subject, body); err != nil {
		notificationsTotal.WithLabelValues("failed").Inc()
		s.logger.WarnContext(ctx, "notification delivery failed",
			"subject", subject,
			"error", err)
		return
	}
	notificationsTotal.WithLabelValues("sent").Inc()
}

func otpBody(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your one-time code is %s. It expires in %d minutes.", code, int(ttl/time.Minute))
}

// Signup registers an account with the default role and sends a
// verification passcode to its email.
func (s *Service) Signup(ctx context.Context, username, email, password string) (account *Account, err error) {
	defer func() { observe("signup", err) }()

	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)

	taken, err := s.accounts.ExistsByEmailOrUsername(ctx, email, username)
	if err != nil {
		return nil, internal("check existing account", err)
	}
	if taken {
		return nil, oops.Code(CodeConflict).With("username", username).Errorf("email or username already taken")
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, internal("hash password", err)
	}
	account, err = NewAccount(username, email, digest)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, oops.Code(CodeConflict).With("username", username).Errorf("email or username already taken")
		}
		return nil, internal("create account", err)
	}

	code, err := s.otps.Issue(ctx, account.ID, PurposeSignup)
	if err != nil {
		return nil, internal("issue signup passcode", err)
	}
	s.notify(ctx, account.Email, "Verify your email", otpBody(code, s.otps.ttl(PurposeSignup)))

	s.logger.InfoContext(ctx, "account created", "account_id", account.ID.String())
	return account, nil
}

// VerifyOTP consumes a signup passcode, marks the email verified and starts
// a session.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (session *Session, account *Account, err error) {
	defer func() { observe("verify_otp", err) }()

	account, err = s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, nil, invalidOTP()
	}
	if err != nil {
		return nil, nil, internal("get account by email", err)
	}
	if err := s.otps.Consume(ctx, account.ID, code, PurposeSignup); err != nil {
		return nil, nil, err
	}
	if !account.EmailVerified {
		if err := s.accounts.MarkEmailVerified(ctx, account.ID); err != nil {
			return nil, nil, internal("mark email verified", err)
		}
		account.EmailVerified = true
	}

	session, err = s.issuer.IssuePair(account.ID, account.Email, account.Role)
	if err != nil {
		return nil, nil, internal("issue tokens", err)
	}
	return session, account, nil
}

// Login authenticates with email and password. Every failure, whether the
// account is unknown, has no password, or the password is wrong, yields the
// same InvalidCredentials error.
func (s *Service) Login(ctx context.Context, email, password string) (session *Session, account *Account, err error) {
	defer func() { observe("login", err) }()

	account, lookupErr := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return nil, nil, internal("get account by email", lookupErr)
	}

	target := dummyPasswordHash
	usable := lookupErr == nil && account.HasPassword()
	if usable {
		target = account.PasswordHash
	}

	valid, verifyErr := s.hasher.Verify(password, target)
	if verifyErr != nil {
		if usable {
			s.logger.WarnContext(ctx, "stored password digest is malformed",
				"account_id", account.ID.String(),
				"error", verifyErr)
		}
		return nil, nil, invalidCredentials()
	}
	if !usable || !valid {
		return nil, nil, invalidCredentials()
	}

	if s.hasher.NeedsRehash(account.PasswordHash) {
		if digest, hashErr := s.hasher.Hash(password); hashErr == nil {
			if updErr := s.accounts.UpdatePassword(ctx, account.ID, digest); updErr != nil {
				errutil.LogError(s.logger, "password rehash failed", updErr)
			}
		}
	}

	session, err = s.issuer.IssuePair(account.ID, account.Email, account.Role)
	if err != nil {
		return nil, nil, internal("issue tokens", err)
	}
	return session, account, nil
}

// Refresh exchanges a valid, unrevoked refresh token for a new pair built
// from its claims. The account must still exist: deleting it cascades its
// ledger rows away, so the ledger alone cannot stop the token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (session *Session, err error) {
	defer func() { observe("refresh", err) }()

	payload, err := s.verifier.VerifyRefresh(ctx, refreshToken, s.ledger)
	if err != nil {
		return nil, err
	}
	if _, err := s.accounts.GetByID(ctx, payload.AccountID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, unauthorized("account no longer exists")
		}
		return nil, internal("load account", err)
	}
	if s.rotateRefresh {
		if err := s.ledger.Revoke(ctx, payload.AccountID, refreshToken, time.Until(payload.ExpiresAt)); err != nil {
			return nil, internal("revoke rotated refresh token", err)
		}
	}

	session, err = s.issuer.IssuePair(payload.AccountID, payload.Email, payload.Role)
	if err != nil {
		return nil, internal("issue tokens", err)
	}
	return session, nil
}

// Logout revokes one refresh token belonging to the caller.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) (err error) {
	defer func() { observe("logout", err) }()

	caller, err := s.requireAccess(accessToken)
	if err != nil {
		return err
	}
	if refreshToken == "" {
		return validationError("refreshToken", "Refresh token is required")
	}
	target, err := s.verifier.VerifyRefreshSignature(refreshToken)
	if err != nil {
		return err
	}
	if target.AccountID != caller.AccountID {
		return oops.Code(CodeForbidden).
			With("account_id", caller.AccountID.String()).
			Errorf("refresh token belongs to another account")
	}
	if err := s.ledger.Revoke(ctx, caller.AccountID, refreshToken, time.Until(target.ExpiresAt)); err != nil {
		return internal("revoke refresh token", err)
	}
	return nil
}

// LogoutAll revokes every refresh token of the caller.
func (s *Service) LogoutAll(ctx context.Context, accessToken string) (err error) {
	defer func() { observe("logout_all", err) }()

	caller, err := s.requireAccess(accessToken)
	if err != nil {
		return err
	}
	if err := s.ledger.RevokeAll(ctx, caller.AccountID, s.issuer.RefreshTTL()); err != nil {
		return internal("revoke all sessions", err)
	}
	return nil
}

// RequestPasswordReset sends a reset passcode when the email belongs to an
// account. It succeeds identically for unknown emails.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer func() { observe("request_password_reset", err) }()

	if err := ValidateEmail(email); err != nil {
		return err
	}
	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return internal("get account by email", err)
	}

	code, err := s.otps.Issue(ctx, account.ID, PurposePasswordReset)
	if err != nil {
		return internal("issue reset passcode", err)
	}
	s.notify(ctx, account.Email, "Password reset", otpBody(code, s.otps.ttl(PurposePasswordReset)))
	return nil
}

// ResetPassword consumes a reset passcode and replaces the password. No
// tokens are issued and the ledger is untouched; callers that want to end
// existing sessions use LogoutAll.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) (err error) {
	defer func() { observe("reset_password", err) }()

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return invalidOTP()
	}
	if err != nil {
		return internal("get account by email", err)
	}
	if err := s.otps.Consume(ctx, account.ID, code, PurposePasswordReset); err != nil {
		return err
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return internal("hash password", err)
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, digest); err != nil {
		return internal("update password", err)
	}
	s.logger.InfoContext(ctx, "password reset", "account_id", account.ID.String())
	return nil
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, accessToken string) (account *Account, err error) {
	defer func() { observe("me", err) }()

	caller, err := s.requireAccess(accessToken)
	if err != nil {
		return nil, err
	}
	account, err = s.accounts.GetByID(ctx, caller.AccountID)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeNotFound).With("account_id", caller.AccountID.String()).Errorf("account not found")
	}
	if err != nil {
		return nil, internal("get account", err)
	}
	return account, nil
}
