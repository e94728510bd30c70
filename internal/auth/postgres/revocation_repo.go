// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package postgres

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

// RevocationRepository implements auth.RevocationStore using PostgreSQL.
type RevocationRepository struct {
	db DB
}

// NewRevocationRepository creates a new RevocationRepository.
func NewRevocationRepository(db DB) *RevocationRepository {
	return &RevocationRepository{db: db}
}

// Insert stores a record, keeping the later expiry on conflict.
func (r *RevocationRepository) Insert(ctx context.Context, rec *auth.RevocationRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO revoked_tokens (account_id, token_ref, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, token_ref)
		DO UPDATE SET expires_at = GREATEST(revoked_tokens.expires_at, EXCLUDED.expires_at)
	`,
		rec.AccountID.String(),
		rec.TokenRef,
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return oops.Code("REVOCATION_INSERT_FAILED").
			With("operation", "insert revocation").
			With("account_id", rec.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// IsRevoked reports whether an unexpired record matches ref or the
// all-sessions sentinel.
func (r *RevocationRepository) IsRevoked(ctx context.Context, accountID ulid.ULID, ref string, now time.Time) (bool, error) {
	var revoked bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM revoked_tokens
			WHERE account_id = $1 AND token_ref IN ($2, $3) AND expires_at > $4
		)
	`, accountID.String(), ref, auth.AllSessions, now).Scan(&revoked)
	if err != nil {
		return false, oops.Code("REVOCATION_LOOKUP_FAILED").
			With("operation", "check revocation").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return revoked, nil
}

// DeleteExpired removes records that expired at or before now.
func (r *RevocationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("REVOCATION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired revocations").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}
