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

const accountColumns = `id, username, email, COALESCE(password_hash, ''), role, email_verified,
		       COALESCE(display_name, ''), COALESCE(picture_url, ''), created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (
			id, username, email, password_hash, role, email_verified,
			display_name, picture_url, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		account.ID.String(),
		account.Username,
		account.Email,
		nullIfEmpty(account.PasswordHash),
		account.Role.String(),
		account.EmailVerified,
		nullIfEmpty(account.DisplayName),
		nullIfEmpty(account.PictureURL),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_DUPLICATE").
			With("username", account.Username).
			Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", account.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// ExistsByEmailOrUsername reports whether either identifier is taken.
func (r *AccountRepository) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM accounts
			WHERE LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($2)
		)
	`, email, username).Scan(&exists)
	if err != nil {
		return false, oops.Code("ACCOUNT_EXISTS_FAILED").
			With("operation", "check account exists").
			Wrap(err)
	}
	return exists, nil
}

// List returns all accounts, newest first.
func (r *AccountRepository) List(ctx context.Context) ([]*auth.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "list accounts").
			Wrap(err)
	}
	defer rows.Close()

	accounts := make([]*auth.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").
				With("operation", "scan account").
				Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "iterate accounts").
			Wrap(err)
	}
	return accounts, nil
}

func (r *AccountRepository) updateOne(ctx context.Context, code, operation string, id ulid.ULID, sql string, args ...any) error {
	result, err := r.db.Exec(ctx, sql, append([]any{id.String(), time.Now()}, args...)...)
	if err != nil {
		return oops.Code(code).
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.updateOne(ctx, "ACCOUNT_UPDATE_PASSWORD_FAILED", "update password", id, `
		UPDATE accounts SET password_hash = $3, updated_at = $2 WHERE id = $1
	`, passwordHash)
}

// UpdateRole changes the role.
func (r *AccountRepository) UpdateRole(ctx context.Context, id ulid.ULID, role auth.Role) error {
	return r.updateOne(ctx, "ACCOUNT_UPDATE_ROLE_FAILED", "update role", id, `
		UPDATE accounts SET role = $3, updated_at = $2 WHERE id = $1
	`, role.String())
}

// MarkEmailVerified sets the email-verified flag.
func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID) error {
	return r.updateOne(ctx, "ACCOUNT_VERIFY_EMAIL_FAILED", "mark email verified", id, `
		UPDATE accounts SET email_verified = TRUE, updated_at = $2 WHERE id = $1
	`)
}

// Delete removes an account. Passcodes and revocations cascade.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("operation", "delete account").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Stats counts accounts in total, per role, and created at or after since.
func (r *AccountRepository) Stats(ctx context.Context, since time.Time) (*auth.AccountStats, error) {
	stats := &auth.AccountStats{ByRole: make(map[auth.Role]int)}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at >= $1) FROM accounts
	`, since).Scan(&stats.Total, &stats.RecentRegistrations)
	if err != nil {
		return nil, oops.Code("ACCOUNT_STATS_FAILED").
			With("operation", "count accounts").
			Wrap(err)
	}

	rows, err := r.db.Query(ctx, `SELECT role, COUNT(*) FROM accounts GROUP BY role`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_STATS_FAILED").
			With("operation", "count by role").
			Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			roleName string
			count    int
		)
		if err := rows.Scan(&roleName, &count); err != nil {
			return nil, oops.Code("ACCOUNT_STATS_FAILED").
				With("operation", "scan role count").
				Wrap(err)
		}
		role, err := auth.ParseRole(roleName)
		if err != nil {
			return nil, oops.Code("ACCOUNT_STATS_FAILED").
				With("role", roleName).
				Wrap(err)
		}
		stats.ByRole[role] = count
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_STATS_FAILED").
			With("operation", "iterate role counts").
			Wrap(err)
	}
	return stats, nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr    string
		roleName string
		account  auth.Account
	)
	err := row.Scan(
		&idStr,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&roleName,
		&account.EmailVerified,
		&account.DisplayName,
		&account.PictureURL,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	account.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	account.Role, err = auth.ParseRole(roleName)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ROLE").With("role", roleName).Wrap(err)
	}
	return &account, nil
}
