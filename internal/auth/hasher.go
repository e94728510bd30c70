// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params are the OWASP-recommended argon2id parameters.
var DefaultArgon2Params = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a self-describing digest of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error on a
	// malformed digest.
	Verify(password, digest string) (bool, error)

	// NeedsRehash reports whether digest was produced with different parameters.
	NeedsRehash(digest string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates an Argon2idHasher with DefaultArgon2Params.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{params: DefaultArgon2Params}
}

// NewArgon2idHasherWithParams creates an Argon2idHasher with custom parameters.
func NewArgon2idHasherWithParams(p Argon2Params) *Argon2idHasher {
	return &Argon2idHasher{params: p}
}

// Hash produces an argon2id digest in PHC string format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

type phcDigest struct {
	version int
	memory  uint32
	time    uint32
	threads uint32
	salt    []byte
	key     []byte
}

func parseDigest(encoded string) (*phcDigest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	d := &phcDigest{}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &d.version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.memory, &d.time, &d.threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	// threads must fit in uint8
	if d.threads == 0 || d.threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", d.threads)
	}
	if len(d.key) == 0 || len(d.key) > 1<<30 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(d.key))
	}
	return d, nil
}

// Verify checks if the password matches the digest using the parameters
// recorded in the digest.
func (h *Argon2idHasher) Verify(password, encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), d.salt, d.time, d.memory, uint8(d.threads), uint32(len(d.key)))

	return subtle.ConstantTimeCompare(computed, d.key) == 1, nil
}

// NeedsRehash reports whether the digest is not argon2id or was minted with
// parameters other than the hasher's current ones.
func (h *Argon2idHasher) NeedsRehash(encoded string) bool {
	d, err := parseDigest(encoded)
	if err != nil {
		return true
	}
	return d.version != argon2.Version ||
		d.memory != h.params.Memory ||
		d.time != h.params.Time ||
		d.threads != uint32(h.params.Threads) ||
		uint32(len(d.key)) != h.params.KeyLen
}
