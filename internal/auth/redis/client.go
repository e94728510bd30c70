// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// Options configures NewClient.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient dials Redis and fails unless a ping answers within five seconds.
func NewClient(ctx context.Context, opts Options) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}
