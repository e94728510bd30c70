// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

func TestArgon2idHasher_Hash(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("produces PHC string", func(t *testing.T) {
		digest, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=65536,t=1,p=4$"))
	})

	t.Run("same password produces different digests", func(t *testing.T) {
		d1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		d2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, d1, d2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_EMPTY_PASSWORD")
	})
}

func TestArgon2idHasher_Verify(t *testing.T) {
	hasher := auth.NewArgon2idHasher()
	digest, err := hasher.Hash("correctpassword")
	require.NoError(t, err)

	t.Run("correct password verifies", func(t *testing.T) {
		ok, err := hasher.Verify("correctpassword", digest)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("incorrect password fails without error", func(t *testing.T) {
		ok, err := hasher.Verify("wrongpassword", digest)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	malformed := []struct {
		name   string
		digest string
		errMsg string
	}{
		{"not a digest", "not-a-valid-hash", "invalid hash format"},
		{"empty digest", "", "invalid hash format"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", "unsupported hash algorithm"},
		{"bad version", "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA", ""},
		{"bad parameters", "$argon2id$v=19$invalid$c2FsdA$aGFzaA", ""},
		{"bad salt", "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA", ""},
		{"bad key", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!", ""},
		{"threads overflow", "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA", "threads value"},
	}
	for _, tt := range malformed {
		t.Run("malformed: "+tt.name, func(t *testing.T) {
			ok, err := hasher.Verify("password", tt.digest)
			require.Error(t, err)
			assert.False(t, ok)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestArgon2idHasher_NeedsRehash(t *testing.T) {
	current := auth.NewArgon2idHasher()
	cheap := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32,
	})

	cheapDigest, err := cheap.Hash("password")
	require.NoError(t, err)
	currentDigest, err := current.Hash("password")
	require.NoError(t, err)

	assert.True(t, current.NeedsRehash(cheapDigest), "older parameters need rehash")
	assert.False(t, current.NeedsRehash(currentDigest))
	assert.True(t, current.NeedsRehash("$2a$10$N9qo8uLOickgx2ZMRZoMyeIvNq.Uf3hE9tQALNP1Qn9sNp5x5x5x5"), "bcrypt digests need rehash")

	ok, err := current.Verify("password", cheapDigest)
	require.NoError(t, err)
	assert.True(t, ok, "digests verify with their own recorded parameters")
}
