// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/internal/auth/postgres"
	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

var accountRowColumns = []string{
	"id", "username", "email", "password_hash", "role", "email_verified",
	"display_name", "picture_url", "created_at", "updated_at",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		mock.Close()
	})
	return mock
}

func accountRow(id ulid.ULID, username, role string, now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(accountRowColumns).
		AddRow(id.String(), username, username+"@example.com", "$argon2id$stub", role, true, "", "", now, now)
}

func TestAccountRepository_Create(t *testing.T) {
	account, err := auth.NewAccount("alice", "alice@example.com", "$argon2id$stub")
	require.NoError(t, err)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
		wantIs    error
	}{
		{
			name: "inserts",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO accounts`).
					WithArgs(account.ID.String(), "alice", "alice@example.com", pgxmock.AnyArg(),
						"user", false, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "unique violation maps to duplicate",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO accounts`).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			wantCode: "ACCOUNT_DUPLICATE",
			wantIs:   auth.ErrDuplicate,
		},
		{
			name: "other failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO accounts`).
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "ACCOUNT_CREATE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			err := postgres.NewAccountRepository(mock).Create(context.Background(), account)
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestAccountRepository_GetByEmail(t *testing.T) {
	id := ulid.Make()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM accounts WHERE LOWER\(email\) = LOWER\(\$1\)`).
			WithArgs("Bob@Example.com").
			WillReturnRows(accountRow(id, "bob", "moderator", now))

		got, err := postgres.NewAccountRepository(mock).GetByEmail(context.Background(), "Bob@Example.com")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, auth.RoleModerator, got.Role)
		assert.True(t, got.EmailVerified)
		assert.Equal(t, now, got.CreatedAt)
	})

	t.Run("missing is not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM accounts WHERE LOWER\(email\)`).WillReturnError(pgx.ErrNoRows)

		_, err := postgres.NewAccountRepository(mock).GetByEmail(context.Background(), "nobody@example.com")
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("corrupt role", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM accounts WHERE LOWER\(email\)`).
			WillReturnRows(accountRow(id, "bob", "superuser", now))

		_, err := postgres.NewAccountRepository(mock).GetByEmail(context.Background(), "bob@example.com")
		errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_ROLE")
	})
}

func TestAccountRepository_GetByID(t *testing.T) {
	id := ulid.Make()

	mock := newMock(t)
	mock.ExpectQuery(`FROM accounts WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnError(errors.New("timeout"))

	_, err := postgres.NewAccountRepository(mock).GetByID(context.Background(), id)
	errutil.AssertErrorCode(t, err, "ACCOUNT_GET_BY_ID_FAILED")
	assert.NotErrorIs(t, err, auth.ErrNotFound)
}

func TestAccountRepository_List(t *testing.T) {
	now := time.Now().UTC()
	first, second := ulid.Make(), ulid.Make()

	mock := newMock(t)
	rows := pgxmock.NewRows(accountRowColumns).
		AddRow(second.String(), "zed", "zed@example.com", "", "admin", false, "Zed", "https://example.com/z.png", now, now).
		AddRow(first.String(), "amy", "amy@example.com", "$argon2id$stub", "user", true, "", "", now, now)
	mock.ExpectQuery(`ORDER BY created_at DESC`).WillReturnRows(rows)

	got, err := postgres.NewAccountRepository(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second, got[0].ID)
	assert.False(t, got[0].HasPassword())
	assert.Equal(t, "Zed", got[0].DisplayName)
	assert.True(t, got[1].HasPassword())
}

func TestAccountRepository_Updates(t *testing.T) {
	id := ulid.Make()
	ctx := context.Background()

	tests := []struct {
		name     string
		pattern  string
		affected int64
		run      func(r *postgres.AccountRepository) error
		wantCode string
	}{
		{
			name:     "update password",
			pattern:  `UPDATE accounts SET password_hash = \$3`,
			affected: 1,
			run:      func(r *postgres.AccountRepository) error { return r.UpdatePassword(ctx, id, "$argon2id$new") },
		},
		{
			name:     "update role",
			pattern:  `UPDATE accounts SET role = \$3`,
			affected: 1,
			run:      func(r *postgres.AccountRepository) error { return r.UpdateRole(ctx, id, auth.RoleAdmin) },
		},
		{
			name:     "mark verified on missing account",
			pattern:  `UPDATE accounts SET email_verified = TRUE`,
			affected: 0,
			run:      func(r *postgres.AccountRepository) error { return r.MarkEmailVerified(ctx, id) },
			wantCode: "ACCOUNT_NOT_FOUND",
		},
		{
			name:     "delete missing account",
			pattern:  `DELETE FROM accounts WHERE id = \$1`,
			affected: 0,
			run:      func(r *postgres.AccountRepository) error { return r.Delete(ctx, id) },
			wantCode: "ACCOUNT_NOT_FOUND",
		},
		{
			name:     "delete",
			pattern:  `DELETE FROM accounts WHERE id = \$1`,
			affected: 1,
			run:      func(r *postgres.AccountRepository) error { return r.Delete(ctx, id) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectExec(tt.pattern).WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			err := tt.run(postgres.NewAccountRepository(mock))
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
			assert.ErrorIs(t, err, auth.ErrNotFound)
		})
	}
}

func TestAccountRepository_Stats(t *testing.T) {
	since := time.Now().Add(-7 * 24 * time.Hour)

	t.Run("aggregates", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(\*\) FILTER`).
			WithArgs(since).
			WillReturnRows(pgxmock.NewRows([]string{"total", "recent"}).AddRow(5, 2))
		mock.ExpectQuery(`GROUP BY role`).
			WillReturnRows(pgxmock.NewRows([]string{"role", "count"}).
				AddRow("user", 3).
				AddRow("moderator", 1).
				AddRow("admin", 1))

		stats, err := postgres.NewAccountRepository(mock).Stats(context.Background(), since)
		require.NoError(t, err)
		assert.Equal(t, 5, stats.Total)
		assert.Equal(t, 2, stats.RecentRegistrations)
		assert.Equal(t, map[auth.Role]int{auth.RoleUser: 3, auth.RoleModerator: 1, auth.RoleAdmin: 1}, stats.ByRole)
	})

	t.Run("count failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT COUNT`).WillReturnError(errors.New("boom"))

		_, err := postgres.NewAccountRepository(mock).Stats(context.Background(), since)
		errutil.AssertErrorCode(t, err, "ACCOUNT_STATS_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "count accounts")
	})
}

func TestAccountRepository_ExistsByEmailOrUsername(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("a@example.com", "alice").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := postgres.NewAccountRepository(mock).ExistsByEmailOrUsername(context.Background(), "a@example.com", "alice")
	require.NoError(t, err)
	assert.True(t, exists)
}
