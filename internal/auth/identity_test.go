// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth_test

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/internal/auth/authtest"
	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc", "abc"},
		{"Bearer ", ""},
		{"Basic abc", ""},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, auth.BearerToken(tt.header), tt.header)
	}
}

func TestAuthenticator(t *testing.T) {
	issuer, verifier := newTokenPair(t, authtest.TokenConfig())
	authn, err := auth.NewAuthenticator(verifier)
	require.NoError(t, err)

	id := ulid.Make()
	session, err := issuer.IssuePair(id, "mod@example.com", auth.RoleModerator)
	require.NoError(t, err)
	header := "Bearer " + session.AccessToken

	t.Run("try authenticate never fails", func(t *testing.T) {
		payload, ok := authn.TryAuthenticate(header)
		require.True(t, ok)
		assert.Equal(t, id, payload.AccountID)

		for _, h := range []string{"", "Bearer", "Bearer junk", "Bearer " + session.RefreshToken} {
			payload, ok := authn.TryAuthenticate(h)
			assert.False(t, ok, h)
			assert.Nil(t, payload)
		}
	})

	t.Run("require authenticate fails loudly", func(t *testing.T) {
		_, err := authn.RequireAuthenticate("")
		errutil.AssertErrorCode(t, err, auth.CodeUnauthorized)
		_, err = authn.RequireAuthenticate("Bearer junk")
		errutil.AssertErrorCode(t, err, auth.CodeUnauthorized)
	})

	t.Run("require role", func(t *testing.T) {
		_, err := authn.RequireRole(header, auth.RoleModerator)
		require.NoError(t, err)

		_, err = authn.RequireRole(header, auth.RoleAdmin)
		errutil.AssertErrorCode(t, err, auth.CodeForbidden)

		_, err = authn.RequireRole(header, auth.RoleUser)
		errutil.AssertErrorCode(t, err, auth.CodeForbidden)

		admin, err := issuer.IssueAccessToken(ulid.Make(), "root@example.com", auth.RoleAdmin)
		require.NoError(t, err)
		for _, r := range []auth.Role{auth.RoleUser, auth.RoleModerator, auth.RoleAdmin} {
			_, err := authn.RequireRole("Bearer "+admin, r)
			assert.NoError(t, err, r.String())
		}

		_, err = authn.RequireRole("", auth.RoleUser)
		errutil.AssertErrorCode(t, err, auth.CodeUnauthorized)
	})
}
