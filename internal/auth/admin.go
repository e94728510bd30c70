// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Admin listing limits.
const (
	AdminOTPListLimit = 100
	StatsWindow       = 7 * 24 * time.Hour
)

func (s *Service) requireAdmin(accessToken string) (*TokenPayload, error) {
	return s.auth.RequireRole(bearerPrefix+accessToken, RoleAdmin)
}

func parseAccountID(id string) (ulid.ULID, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return ulid.ULID{}, validationError("id", "Invalid account id")
	}
	return parsed, nil
}

func accountNotFound(id ulid.ULID) error {
	return oops.Code(CodeNotFound).With("account_id", id.String()).Errorf("account not found")
}

// AdminListUsers returns every account.
func (s *Service) AdminListUsers(ctx context.Context, accessToken string) (accounts []*Account, err error) {
	defer func() { observe("admin_list_users", err) }()

	if _, err := s.requireAdmin(accessToken); err != nil {
		return nil, err
	}
	accounts, err = s.accounts.List(ctx)
	if err != nil {
		return nil, internal("list accounts", err)
	}
	return accounts, nil
}

// AdminGetUser returns one account.
func (s *Service) AdminGetUser(ctx context.Context, accessToken, id string) (account *Account, err error) {
	defer func() { observe("admin_get_user", err) }()

	if _, err := s.requireAdmin(accessToken); err != nil {
		return nil, err
	}
	accountID, err := parseAccountID(id)
	if err != nil {
		return nil, err
	}
	account, err = s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return nil, accountNotFound(accountID)
	}
	if err != nil {
		return nil, internal("get account", err)
	}
	return account, nil
}

// AdminSetRole changes an account's role and returns the updated account.
func (s *Service) AdminSetRole(ctx context.Context, accessToken, id, role string) (account *Account, err error) {
	defer func() { observe("admin_set_role", err) }()

	caller, err := s.requireAdmin(accessToken)
	if err != nil {
		return nil, err
	}
	accountID, err := parseAccountID(id)
	if err != nil {
		return nil, err
	}
	newRole, err := ParseRole(role)
	if err != nil {
		return nil, err
	}

	err = s.accounts.UpdateRole(ctx, accountID, newRole)
	if errors.Is(err, ErrNotFound) {
		return nil, accountNotFound(accountID)
	}
	if err != nil {
		return nil, internal("update role", err)
	}
	account, err = s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, internal("get account", err)
	}

	s.logger.InfoContext(ctx, "account role changed",
		"account_id", accountID.String(),
		"role", newRole.String(),
		"by", caller.AccountID.String())
	return account, nil
}

// AdminDeleteUser hard-deletes an account along with its passcodes and
// revocation records.
func (s *Service) AdminDeleteUser(ctx context.Context, accessToken, id string) (err error) {
	defer func() { observe("admin_delete_user", err) }()

	caller, err := s.requireAdmin(accessToken)
	if err != nil {
		return err
	}
	accountID, err := parseAccountID(id)
	if err != nil {
		return err
	}
	err = s.accounts.Delete(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return accountNotFound(accountID)
	}
	if err != nil {
		return internal("delete account", err)
	}

	s.logger.InfoContext(ctx, "account deleted",
		"account_id", accountID.String(),
		"by", caller.AccountID.String())
	return nil
}

// AdminStats counts accounts in total, per role, and registered within
// StatsWindow.
func (s *Service) AdminStats(ctx context.Context, accessToken string) (stats *AccountStats, err error) {
	defer func() { observe("admin_stats", err) }()

	if _, err := s.requireAdmin(accessToken); err != nil {
		return nil, err
	}
	stats, err = s.accounts.Stats(ctx, s.now().Add(-StatsWindow))
	if err != nil {
		return nil, internal("account stats", err)
	}
	return stats, nil
}

// AdminListOTPs returns the most recent passcodes. Codes are stored hashed,
// so only metadata is returned.
func (s *Service) AdminListOTPs(ctx context.Context, accessToken string) (otps []*OneTimePasscode, err error) {
	defer func() { observe("admin_list_otps", err) }()

	if _, err := s.requireAdmin(accessToken); err != nil {
		return nil, err
	}
	return s.otps.ListRecent(ctx, AdminOTPListLimit)
}
