// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Username and password constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MinPasswordLength = 8
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, numbers, and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Account is a registered identity.
type Account struct {
	ID       ulid.ULID
	Username string
	Email    string
	// PasswordHash is empty for accounts provisioned through an external
	// identity provider. Such accounts cannot log in with a password.
	PasswordHash  string
	Role          Role
	EmailVerified bool
	DisplayName   string
	PictureURL    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPassword reports whether the account can authenticate with a password.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// NewAccount creates an Account with a fresh ID and the default role.
func NewAccount(username, email, passwordHash string) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail trims and lowercases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateUsername validates a username: MinUsernameLength to
// MaxUsernameLength characters, starting with a letter, letters, digits and
// underscores only.
func ValidateUsername(username string) error {
	if username == "" {
		return validationError("username", "Username is required")
	}
	if len(username) < MinUsernameLength {
		return validationError("username", "Username must be at least 3 characters")
	}
	if len(username) > MaxUsernameLength {
		return validationError("username", "Username must be at most 30 characters")
	}
	if !usernameRegex.MatchString(username) {
		return validationError("username",
			"Username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail checks the address has the local@domain.tld shape.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(strings.TrimSpace(email)) {
		return validationError("email", "Invalid email address")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return validationError("password", "Password must be at least 8 characters")
	}
	return nil
}

// AccountStats summarises the account population.
type AccountStats struct {
	Total               int
	ByRole              map[Role]int
	RecentRegistrations int
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. Returns an error wrapping ErrDuplicate if the
	// username or email is already taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	// Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// ExistsByEmailOrUsername reports whether either identifier is taken
	// (case-insensitive).
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)

	// List returns all accounts, newest first.
	List(ctx context.Context) ([]*Account, error)

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// UpdateRole changes the role. Returns ErrNotFound if absent.
	UpdateRole(ctx context.Context, id ulid.ULID, role Role) error

	// MarkEmailVerified sets the email-verified flag.
	MarkEmailVerified(ctx context.Context, id ulid.ULID) error

	// Delete removes an account together with its passcodes and revocations.
	// Returns ErrNotFound if absent.
	Delete(ctx context.Context, id ulid.ULID) error

	// Stats counts accounts; RecentRegistrations counts those created at or
	// after since.
	Stats(ctx context.Context, since time.Time) (*AccountStats, error)
}
