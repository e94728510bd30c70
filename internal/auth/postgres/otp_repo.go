// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

// OTPRepository implements auth.OTPRepository using PostgreSQL.
type OTPRepository struct {
	db DB
}

// NewOTPRepository creates a new OTPRepository.
func NewOTPRepository(db DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// Create stores a passcode.
func (r *OTPRepository) Create(ctx context.Context, otp *auth.OneTimePasscode) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO one_time_passcodes (id, account_id, code_hash, purpose, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		otp.ID.String(),
		otp.AccountID.String(),
		otp.CodeHash,
		string(otp.Purpose),
		otp.CreatedAt,
		otp.ExpiresAt,
	)
	if err != nil {
		return oops.Code("OTP_CREATE_FAILED").
			With("operation", "insert passcode").
			With("account_id", otp.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// Consume deletes and returns one matching unexpired passcode in a single
// statement, so two concurrent redemptions of the same code cannot both win.
func (r *OTPRepository) Consume(ctx context.Context, accountID ulid.ULID, codeHash string, purpose auth.Purpose, now time.Time) (*auth.OneTimePasscode, error) {
	row := r.db.QueryRow(ctx, `
		DELETE FROM one_time_passcodes
		WHERE id = (
			SELECT id FROM one_time_passcodes
			WHERE account_id = $1 AND code_hash = $2 AND purpose = $3 AND expires_at > $4
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, account_id, code_hash, purpose, created_at, expires_at
	`, accountID.String(), codeHash, string(purpose), now)

	otp, err := scanOTP(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("OTP_NOT_FOUND").
			With("account_id", accountID.String()).
			With("purpose", purpose).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("OTP_CONSUME_FAILED").
			With("operation", "consume passcode").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return otp, nil
}

// ListRecent returns at most limit passcodes, newest first.
func (r *OTPRepository) ListRecent(ctx context.Context, limit int) ([]*auth.OneTimePasscode, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, code_hash, purpose, created_at, expires_at
		FROM one_time_passcodes
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, oops.Code("OTP_LIST_FAILED").With("operation", "list passcodes").Wrap(err)
	}
	defer rows.Close()

	otps := make([]*auth.OneTimePasscode, 0)
	for rows.Next() {
		otp, err := scanOTP(rows)
		if err != nil {
			return nil, oops.Code("OTP_LIST_FAILED").With("operation", "scan passcode").Wrap(err)
		}
		otps = append(otps, otp)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("OTP_LIST_FAILED").With("operation", "iterate passcodes").Wrap(err)
	}
	return otps, nil
}

// DeleteExpired removes passcodes that expired at or before now.
func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM one_time_passcodes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("OTP_DELETE_EXPIRED_FAILED").With("operation", "delete expired passcodes").Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanOTP(row pgx.Row) (*auth.OneTimePasscode, error) {
	var (
		idStr, accountIDStr, purpose string
		otp                          auth.OneTimePasscode
	)
	if err := row.Scan(&idStr, &accountIDStr, &otp.CodeHash, &purpose, &otp.CreatedAt, &otp.ExpiresAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	var err error
	if otp.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("OTP_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if otp.AccountID, err = ulid.Parse(accountIDStr); err != nil {
		return nil, oops.Code("OTP_INVALID_ACCOUNT_ID").With("account_id", accountIDStr).Wrap(err)
	}
	otp.Purpose = auth.Purpose(purpose)
	return &otp, nil
}
