// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Purpose scopes a one-time passcode to a single flow.
type Purpose string

// Passcode purposes.
const (
	PurposeSignup        Purpose = "signup"
	PurposePasswordReset Purpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeSignup || p == PurposePasswordReset
}

// Passcode lifetimes.
const (
	DefaultSignupOTPTTL = 30 * time.Minute
	DefaultResetOTPTTL  = 15 * time.Minute
)

const (
	otpMin  = 100000
	otpSpan = 900000
)

// OneTimePasscode is a stored passcode. Only the SHA-256 of the code is kept.
type OneTimePasscode struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	CodeHash  string
	Purpose   Purpose
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the passcode is no longer usable at now.
func (o *OneTimePasscode) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// GenerateCode returns a uniformly distributed six-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", oops.Code("OTP_GENERATE_FAILED").Wrap(err)
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

// HashCode returns the hex SHA-256 of a passcode as stored.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}

// OTPRepository persists passcodes.
type OTPRepository interface {
	// Create stores a passcode.
	Create(ctx context.Context, otp *OneTimePasscode) error

	// Consume atomically deletes and returns an unexpired passcode matching
	// all of account, hash and purpose. Returns ErrNotFound when nothing matches.
	Consume(ctx context.Context, accountID ulid.ULID, codeHash string, purpose Purpose, now time.Time) (*OneTimePasscode, error)

	// ListRecent returns at most limit passcodes, newest first.
	ListRecent(ctx context.Context, limit int) ([]*OneTimePasscode, error)

	// DeleteExpired removes passcodes that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OTPService issues and consumes one-time passcodes.
type OTPService struct {
	repo      OTPRepository
	signupTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
}

// OTPOption configures an OTPService.
type OTPOption func(*OTPService)

// WithOTPTTL overrides the lifetime for purpose.
func WithOTPTTL(purpose Purpose, ttl time.Duration) OTPOption {
	return func(s *OTPService) {
		switch purpose {
		case PurposeSignup:
			s.signupTTL = ttl
		case PurposePasswordReset:
			s.resetTTL = ttl
		}
	}
}

// WithOTPClock overrides the time source.
func WithOTPClock(now func() time.Time) OTPOption {
	return func(s *OTPService) { s.now = now }
}

// NewOTPService creates an OTPService.
func NewOTPService(repo OTPRepository, opts ...OTPOption) (*OTPService, error) {
	if repo == nil {
		return nil, oops.Errorf("otp repository is required")
	}
	s := &OTPService{
		repo:      repo,
		signupTTL: DefaultSignupOTPTTL,
		resetTTL:  DefaultResetOTPTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *OTPService) ttl(purpose Purpose) time.Duration {
	if purpose == PurposePasswordReset {
		return s.resetTTL
	}
	return s.signupTTL
}

// Issue generates and stores a passcode for the account and returns the
// plaintext code. Earlier codes for the same purpose remain valid until they
// expire or are consumed.
func (s *OTPService) Issue(ctx context.Context, accountID ulid.ULID, purpose Purpose) (string, error) {
	if !purpose.Valid() {
		return "", oops.Code("OTP_INVALID_PURPOSE").With("purpose", purpose).Errorf("invalid passcode purpose")
	}
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}
	now := s.now()
	otp := &OneTimePasscode{
		ID:        ulid.Make(),
		AccountID: accountID,
		CodeHash:  HashCode(code),
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl(purpose)),
	}
	if err := s.repo.Create(ctx, otp); err != nil {
		return "", oops.Code("OTP_CREATE_FAILED").
			With("account_id", accountID.String()).
			With("purpose", purpose).
			Wrap(err)
	}
	return code, nil
}

// Consume redeems a passcode. Any miss, including expiry and purpose mismatch,
// returns an InvalidOrExpiredOtp error.
func (s *OTPService) Consume(ctx context.Context, accountID ulid.ULID, code string, purpose Purpose) error {
	if code == "" {
		return invalidOTP()
	}
	_, err := s.repo.Consume(ctx, accountID, HashCode(code), purpose, s.now())
	if errors.Is(err, ErrNotFound) {
		return invalidOTP()
	}
	if err != nil {
		return internal("consume passcode", err)
	}
	return nil
}

// ListRecent returns the most recent passcodes.
func (s *OTPService) ListRecent(ctx context.Context, limit int) ([]*OneTimePasscode, error) {
	otps, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, internal("list passcodes", err)
	}
	return otps, nil
}

// Reap deletes expired passcodes and returns how many were removed.
func (s *OTPService) Reap(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("OTP_REAP_FAILED").Wrap(err)
	}
	return n, nil
}
