// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package authtest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

// Secrets used by the harness.
const (
	AccessSecret  = "test-access-secret"
	RefreshSecret = "test-refresh-secret"
)

// CheapHasherParams keep argon2id fast in tests.
var CheapHasherParams = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

// Harness wires a Service to in-memory collaborators.
type Harness struct {
	Store    *Store
	Notifier *RecordingNotifier
	Issuer   *auth.Issuer
	Verifier *auth.Verifier
	Ledger   *auth.Ledger
	OTPs     *auth.OTPService
	Service  *auth.Service
}

// TokenConfig returns the token configuration used by the harness.
func TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  []byte(AccessSecret),
		RefreshSecret: []byte(RefreshSecret),
		AccessTTL:     auth.DefaultAccessTTL,
		RefreshTTL:    auth.DefaultRefreshTTL,
	}
}

// NewHarness builds a Harness. opts are passed to auth.NewService after a
// discarding logger.
func NewHarness(t testing.TB, opts ...auth.ServiceOption) *Harness {
	t.Helper()

	h := &Harness{
		Store:    NewStore(),
		Notifier: &RecordingNotifier{},
	}

	var err error
	h.Issuer, err = auth.NewIssuer(TokenConfig())
	require.NoError(t, err)
	h.Verifier, err = auth.NewVerifier(TokenConfig())
	require.NoError(t, err)
	h.Ledger, err = auth.NewLedger(h.Store.Revocations(), auth.DefaultRefreshTTL)
	require.NoError(t, err)
	h.OTPs, err = auth.NewOTPService(h.Store.OTPs())
	require.NoError(t, err)

	allOpts := append([]auth.ServiceOption{auth.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	h.Service, err = auth.NewService(auth.ServiceDeps{
		Accounts: h.Store.Accounts(),
		OTPs:     h.OTPs,
		Hasher:   auth.NewArgon2idHasherWithParams(CheapHasherParams),
		Issuer:   h.Issuer,
		Verifier: h.Verifier,
		Ledger:   h.Ledger,
		Notifier: h.Notifier,
	}, allOpts...)
	require.NoError(t, err)
	return h
}

// SignupVerified registers an account, verifies it with the emailed code and
// returns the account and its first session.
func (h *Harness) SignupVerified(t testing.TB, username, email, password string) (*auth.Account, *auth.Session) {
	t.Helper()
	ctx := context.Background()
	_, err := h.Service.Signup(ctx, username, email, password)
	require.NoError(t, err)
	code := h.Notifier.LastCode(email)
	require.NotEmpty(t, code, "signup passcode not delivered")
	session, account, err := h.Service.VerifyOTP(ctx, email, code)
	require.NoError(t, err)
	return account, session
}

// Promote changes an account's role directly in the store and returns a
// fresh session carrying the new role.
func (h *Harness) Promote(t testing.TB, account *auth.Account, role auth.Role) *auth.Session {
	t.Helper()
	require.NoError(t, h.Store.Accounts().UpdateRole(context.Background(), account.ID, role))
	session, err := h.Issuer.IssuePair(account.ID, account.Email, role)
	require.NoError(t, err)
	return session
}
