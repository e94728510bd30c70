// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"strings"

	"github.com/samber/oops"
)

// Role is an account's privilege level. Roles are ordered; a higher role is
// not automatically a superset of a lower one, see ImpliesAccessTo.
type Role int

// Roles in ascending order of privilege.
const (
	RoleUser Role = iota
	RoleModerator
	RoleAdmin
)

var roleNames = [...]string{
	RoleUser:      "user",
	RoleModerator: "moderator",
	RoleAdmin:     "admin",
}

func (r Role) String() string {
	if r < RoleUser || r > RoleAdmin {
		return "unknown"
	}
	return roleNames[r]
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleAdmin
}

// ImpliesAccessTo reports whether an account holding r may access a resource
// that requires required. Administrators pass every check; other roles must
// match exactly.
func (r Role) ImpliesAccessTo(required Role) bool {
	return r == required || r == RoleAdmin
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "moderator":
		return RoleModerator, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleUser, oops.Code(CodeValidationFailed).
			With("role", s).
			Public("Invalid role").
			Errorf("invalid role %q", s)
	}
}

// roleFromClaim maps a token claim to a role. A missing or unrecognised claim
// is treated as the default role.
func roleFromClaim(s string) Role {
	r, err := ParseRole(s)
	if err != nil {
		return RoleUser
	}
	return r
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, oops.Code(CodeValidationFailed).Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
