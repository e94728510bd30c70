// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package redis implements auth.RevocationStore on Redis. Records are keys
// that Redis expires on its own, so no reaping is required.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

// DefaultKeyPrefix namespaces revocation keys.
const DefaultKeyPrefix = "gatekeeper"

// insertScript stores the expiry (unix ms) as the value and as the key's
// absolute expiry, keeping whichever is later.
var insertScript = goredis.NewScript(`
	local want = tonumber(ARGV[1])
	local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
	if want > cur then
		redis.call('SET', KEYS[1], ARGV[1], 'PXAT', ARGV[1])
		return 1
	end
	return 0
`)

// RevocationStore implements auth.RevocationStore.
type RevocationStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewRevocationStore wraps client. An empty prefix uses DefaultKeyPrefix.
func NewRevocationStore(client goredis.UniversalClient, prefix string) (*RevocationStore, error) {
	if client == nil {
		return nil, oops.Code("REDIS_CLIENT_REQUIRED").Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RevocationStore{client: client, prefix: prefix}, nil
}

// key puts the account in a hash tag so both lookups of IsRevoked land in
// the same cluster slot.
func (s *RevocationStore) key(accountID ulid.ULID, ref string) string {
	return s.prefix + ":revoked:{" + accountID.String() + "}:" + ref
}

// Insert stores rec, keeping the later expiry when the key exists.
func (s *RevocationStore) Insert(ctx context.Context, rec *auth.RevocationRecord) error {
	expires := strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10)
	if err := insertScript.Run(ctx, s.client, []string{s.key(rec.AccountID, rec.TokenRef)}, expires).Err(); err != nil {
		return oops.Code("REVOCATION_INSERT_FAILED").
			With("operation", "redis insert revocation").
			With("account_id", rec.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// IsRevoked reports whether ref or the all-sessions sentinel holds an expiry
// after now.
func (s *RevocationStore) IsRevoked(ctx context.Context, accountID ulid.ULID, ref string, now time.Time) (bool, error) {
	vals, err := s.client.MGet(ctx, s.key(accountID, ref), s.key(accountID, auth.AllSessions)).Result()
	if err != nil {
		return false, oops.Code("REVOCATION_LOOKUP_FAILED").
			With("operation", "redis check revocation").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	cutoff := now.UnixMilli()
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		expires, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return false, oops.Code("REVOCATION_LOOKUP_FAILED").
				With("account_id", accountID.String()).
				With("value", str).
				Wrap(err)
		}
		if expires > cutoff {
			return true, nil
		}
	}
	return false, nil
}

// DeleteExpired is a no-op; Redis drops keys at their expiry.
func (s *RevocationStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping verifies the server answers, for readiness checks.
func (s *RevocationStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return oops.Code("REDIS_PING_FAILED").Wrap(err)
	}
	return nil
}
