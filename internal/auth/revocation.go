// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AllSessions is the token reference that revokes every refresh token of an
// account until the record expires.
const AllSessions = "ALL_SESSIONS"

// RevocationRecord marks a refresh token, or with AllSessions every refresh
// token of the account, as unusable until ExpiresAt.
type RevocationRecord struct {
	AccountID ulid.ULID
	TokenRef  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RevocationStore persists revocation records.
type RevocationStore interface {
	// Insert stores a record. Inserting an existing (account, ref) pair
	// extends its expiry rather than failing.
	Insert(ctx context.Context, rec *RevocationRecord) error

	// IsRevoked reports whether an unexpired record exists for the account
	// matching either ref or AllSessions.
	IsRevoked(ctx context.Context, accountID ulid.ULID, ref string, now time.Time) (bool, error)

	// DeleteExpired removes records that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RevocationChecker answers whether a verified refresh token has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, accountID ulid.ULID, token string) (bool, error)
}

// Ledger records refresh-token revocations.
type Ledger struct {
	store  RevocationStore
	minTTL time.Duration
	now    func() time.Time
}

// NewLedger creates a Ledger. Every record lives at least minTTL, which must
// be the refresh-token lifetime so a record never expires before its token.
func NewLedger(store RevocationStore, minTTL time.Duration) (*Ledger, error) {
	if store == nil {
		return nil, oops.Errorf("revocation store is required")
	}
	if minTTL <= 0 {
		minTTL = DefaultRefreshTTL
	}
	return &Ledger{store: store, minTTL: minTTL, now: time.Now}, nil
}

func (l *Ledger) insert(ctx context.Context, accountID ulid.ULID, ref string, ttl time.Duration) error {
	if ttl < l.minTTL {
		ttl = l.minTTL
	}
	now := l.now()
	rec := &RevocationRecord{
		AccountID: accountID,
		TokenRef:  ref,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return oops.Code("REVOCATION_INSERT_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return nil
}

// Revoke denies a single refresh token.
func (l *Ledger) Revoke(ctx context.Context, accountID ulid.ULID, token string, ttl time.Duration) error {
	return l.insert(ctx, accountID, TokenRef(token), ttl)
}

// RevokeAll denies every refresh token of the account, including ones issued
// later, until the sentinel expires.
func (l *Ledger) RevokeAll(ctx context.Context, accountID ulid.ULID, ttl time.Duration) error {
	return l.insert(ctx, accountID, AllSessions, ttl)
}

// IsRevoked implements RevocationChecker.
func (l *Ledger) IsRevoked(ctx context.Context, accountID ulid.ULID, token string) (bool, error) {
	revoked, err := l.store.IsRevoked(ctx, accountID, TokenRef(token), l.now())
	if err != nil {
		return false, oops.Code("REVOCATION_LOOKUP_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return revoked, nil
}

// Reap deletes expired records and returns how many were removed.
func (l *Ledger) Reap(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, oops.Code("REVOCATION_REAP_FAILED").Wrap(err)
	}
	return n, nil
}

// VerifyRefresh validates a refresh token and consults checker for revocation.
func (v *Verifier) VerifyRefresh(ctx context.Context, token string, checker RevocationChecker) (*TokenPayload, error) {
	payload, err := v.verify(token, ClassRefresh)
	if err != nil {
		return nil, err
	}
	if checker == nil {
		return payload, nil
	}
	revoked, err := checker.IsRevoked(ctx, payload.AccountID, token)
	if err != nil {
		return nil, internal("check revocation", err)
	}
	if revoked {
		return nil, oops.Code(CodeTokenRevoked).
			With("account_id", payload.AccountID.String()).
			Errorf("refresh token has been revoked")
	}
	return payload, nil
}
