// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

var secrets = map[string]string{
	"DATABASE_URL":              "postgres://gk:gk@localhost:5432/gk",
	"GATEKEEPER_ACCESS_SECRET":  "access",
	"GATEKEEPER_REFRESH_SECRET": "refresh",
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", nil, envFrom(secrets))
	require.NoError(t, err)

	assert.Equal(t, Default().HTTP, cfg.HTTP)
	assert.Equal(t, BackendPostgres, cfg.Revocation.Backend)
	assert.Equal(t, NotifyLog, cfg.Notify.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Tokens.AccessTTL)
	assert.Equal(t, "postgres://gk:gk@localhost:5432/gk", cfg.Database.URL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Layering(t *testing.T) {
	path := writeYAML(t, `
log:
  level: debug
http:
  addr: ":9000"
  allowed_origins: ["https://app.example.com"]
tokens:
  access_ttl: 5m
  rotate_refresh: true
  access_secret: from-file
revocation:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
notify:
  backend: amqp
  amqp:
    prefetch: 32
`)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	fs.String("unrelated", "x", "not a config flag")
	require.NoError(t, fs.Parse([]string{"--http-addr", ":7000"}))

	env := map[string]string{"GATEKEEPER_ACCESS_SECRET": "from-env", "AMQP_URL": "amqp://guest:guest@mq:5672/"}
	cfg, err := load(path, fs, envFrom(env))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level, "file overrides default")
	assert.Equal(t, "json", cfg.Log.Format, "unset flag does not clobber default")
	assert.Equal(t, ":7000", cfg.HTTP.Addr, "changed flag overrides file")
	assert.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Tokens.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Tokens.RefreshTTL, "untouched nested default survives")
	assert.True(t, cfg.Tokens.RotateRefresh)
	assert.Equal(t, "from-env", cfg.Tokens.AccessSecret, "environment overrides file")
	assert.Equal(t, BackendRedis, cfg.Revocation.Backend)
	assert.Equal(t, 2, cfg.Revocation.Redis.DB)
	assert.Equal(t, "gatekeeper", cfg.Revocation.Redis.KeyPrefix)
	assert.Equal(t, 32, cfg.Notify.AMQP.Prefetch)
	assert.Equal(t, "gatekeeper.email", cfg.Notify.AMQP.Queue)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.Notify.AMQP.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), nil, envFrom(nil))
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeYAML(t, "otp:\n  reset_ttl: soon\n")
	_, err := load(path, nil, envFrom(nil))
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Database.URL = "postgres://localhost/gk"
		cfg.Tokens.AccessSecret = "a"
		cfg.Tokens.RefreshSecret = "b"
		return &cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no database", func(c *Config) { c.Database.URL = "" }, "database.url"},
		{"missing secret", func(c *Config) { c.Tokens.RefreshSecret = "" }, "tokens"},
		{"identical secrets", func(c *Config) { c.Tokens.RefreshSecret = "a" }, "tokens"},
		{"zero ttl", func(c *Config) { c.OTP.ResetTTL = 0 }, "otp.reset_ttl"},
		{"access outlives refresh", func(c *Config) { c.Tokens.AccessTTL = 30 * 24 * time.Hour }, "tokens.access_ttl"},
		{"unknown revocation backend", func(c *Config) { c.Revocation.Backend = "memcached" }, "revocation.backend"},
		{"redis without addr", func(c *Config) {
			c.Revocation.Backend = BackendRedis
			c.Revocation.Redis.Addr = ""
		}, "revocation.redis.addr"},
		{"unknown notify backend", func(c *Config) { c.Notify.Backend = "sms" }, "notify.backend"},
		{"brevo without key", func(c *Config) { c.Notify.Backend = NotifyBrevo }, "notify.brevo"},
		{"amqp without url", func(c *Config) { c.Notify.Backend = NotifyAMQP }, "notify.amqp.url"},
		{"half-configured google", func(c *Config) { c.Google.ClientID = "id" }, "google"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "field", tt.wantField)
		})
	}
}

func TestConfig_ComponentViews(t *testing.T) {
	cfg := Default()
	cfg.Tokens.AccessSecret = "a"
	cfg.Tokens.RefreshSecret = "b"
	cfg.Database.MaxConns = 25

	tc := cfg.TokenConfig()
	assert.Equal(t, []byte("a"), tc.AccessSecret)
	assert.Equal(t, "gatekeeper", tc.Issuer)
	assert.Equal(t, int32(25), cfg.PoolConfig().MaxConns)
}
