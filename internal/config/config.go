// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package config loads gatekeeper configuration.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML file, command-line flags, and finally secrets from the environment.
// Secrets are never read from flags.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/internal/store"
)

// Revocation backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Notification backends.
const (
	NotifyLog   = "log"
	NotifyBrevo = "brevo"
	NotifyAMQP  = "amqp"
)

// Config is the complete process configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	HTTP       HTTPConfig       `koanf:"http"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Database   DatabaseConfig   `koanf:"database"`
	Tokens     TokensConfig     `koanf:"tokens"`
	OTP        OTPConfig        `koanf:"otp"`
	Revocation RevocationConfig `koanf:"revocation"`
	Notify     NotifyConfig     `koanf:"notify"`
	Google     GoogleConfig     `koanf:"google"`
	Reaper     ReaperConfig     `koanf:"reaper"`
}

// LogConfig selects log format and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr           string        `koanf:"addr"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	SecureCookies  bool          `koanf:"secure_cookies"`
	ShutdownGrace  time.Duration `koanf:"shutdown_grace"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// TokensConfig configures token signing.
type TokensConfig struct {
	AccessSecret  string        `koanf:"access_secret"`
	RefreshSecret string        `koanf:"refresh_secret"`
	AccessTTL     time.Duration `koanf:"access_ttl"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl"`
	Issuer        string        `koanf:"issuer"`
	RotateRefresh bool          `koanf:"rotate_refresh"`
}

// OTPConfig configures passcode lifetimes.
type OTPConfig struct {
	SignupTTL time.Duration `koanf:"signup_ttl"`
	ResetTTL  time.Duration `koanf:"reset_ttl"`
}

// RevocationConfig selects where revocation records live.
type RevocationConfig struct {
	Backend string      `koanf:"backend"`
	Redis   RedisConfig `koanf:"redis"`
}

// RedisConfig configures the redis revocation backend.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// NotifyConfig selects how passcode emails leave the process.
type NotifyConfig struct {
	Backend string      `koanf:"backend"`
	Brevo   BrevoConfig `koanf:"brevo"`
	AMQP    AMQPConfig  `koanf:"amqp"`
}

// BrevoConfig configures direct delivery through Brevo.
type BrevoConfig struct {
	APIKey      string `koanf:"api_key"`
	SenderEmail string `koanf:"sender_email"`
	SenderName  string `koanf:"sender_name"`
	URL         string `koanf:"url"`
}

// AMQPConfig configures the email queue.
type AMQPConfig struct {
	URL      string `koanf:"url"`
	Queue    string `koanf:"queue"`
	Prefetch int    `koanf:"prefetch"`
}

// GoogleConfig enables Google sign-in when ClientID is set.
type GoogleConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURL  string `koanf:"redirect_url"`
}

// Enabled reports whether Google sign-in is configured.
func (g GoogleConfig) Enabled() bool { return g.ClientID != "" }

// ReaperConfig schedules expired-record cleanup inside serve. An empty
// Schedule disables it.
type ReaperConfig struct {
	Schedule string `koanf:"schedule"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:     LogConfig{Format: "json", Level: "info"},
		HTTP:    HTTPConfig{Addr: ":8080", ShutdownGrace: 10 * time.Second},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{
			MaxConns:       10,
			ConnectTimeout: 5 * time.Second,
		},
		Tokens: TokensConfig{
			AccessTTL:  auth.DefaultAccessTTL,
			RefreshTTL: auth.DefaultRefreshTTL,
			Issuer:     "gatekeeper",
		},
		OTP: OTPConfig{
			SignupTTL: auth.DefaultSignupOTPTTL,
			ResetTTL:  auth.DefaultResetOTPTTL,
		},
		Revocation: RevocationConfig{
			Backend: BackendPostgres,
			Redis:   RedisConfig{Addr: "localhost:6379", KeyPrefix: "gatekeeper"},
		},
		Notify: NotifyConfig{
			Backend: NotifyLog,
			Brevo:   BrevoConfig{SenderName: "Gatekeeper"},
			AMQP:    AMQPConfig{Queue: "gatekeeper.email", Prefetch: 8},
		},
		Reaper: ReaperConfig{Schedule: "@every 1h"},
	}
}

// flagKeys maps command-line flags to configuration keys. Flags not listed
// are ignored by Load.
var flagKeys = map[string]string{
	"log-format":    "log.format",
	"log-level":     "log.level",
	"http-addr":     "http.addr",
	"metrics-addr":  "metrics.addr",
	"auto-migrate":  "database.auto_migrate",
	"reap-schedule": "reaper.schedule",
}

// envKeys maps environment variables to configuration keys.
var envKeys = map[string]string{
	"DATABASE_URL":              "database.url",
	"GATEKEEPER_ACCESS_SECRET":  "tokens.access_secret",
	"GATEKEEPER_REFRESH_SECRET": "tokens.refresh_secret",
	"REDIS_PASSWORD":            "revocation.redis.password",
	"BREVO_API_KEY":             "notify.brevo.api_key",
	"AMQP_URL":                  "notify.amqp.url",
	"GOOGLE_CLIENT_SECRET":      "google.client_secret",
}

// RegisterFlags adds the flags Load understands to fs, with defaults taken
// from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health listen address (empty = disabled)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on startup")
	fs.String("reap-schedule", d.Reaper.Schedule, "cron schedule for expired-record cleanup (empty = disabled)")
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), the flags in fs (may be nil) and the environment.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	return load(path, fs, os.LookupEnv)
}

func load(path string, fs *pflag.FlagSet, lookupEnv func(string) (string, bool)) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	for env, key := range envKeys {
		if v, ok := lookupEnv(env); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if c.Database.URL == "" {
		return invalid("database.url", "DATABASE_URL is required")
	}
	if c.Tokens.AccessSecret == "" || c.Tokens.RefreshSecret == "" {
		return invalid("tokens", "GATEKEEPER_ACCESS_SECRET and GATEKEEPER_REFRESH_SECRET are required")
	}
	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		return invalid("tokens", "access and refresh secrets must differ")
	}
	for field, ttl := range map[string]time.Duration{
		"tokens.access_ttl":  c.Tokens.AccessTTL,
		"tokens.refresh_ttl": c.Tokens.RefreshTTL,
		"otp.signup_ttl":     c.OTP.SignupTTL,
		"otp.reset_ttl":      c.OTP.ResetTTL,
	} {
		if ttl <= 0 {
			return invalid(field, "%s must be positive, got %s", field, ttl)
		}
	}
	if c.Tokens.AccessTTL >= c.Tokens.RefreshTTL {
		return invalid("tokens.access_ttl", "access ttl must be shorter than refresh ttl")
	}

	switch c.Revocation.Backend {
	case BackendPostgres:
	case BackendRedis:
		if c.Revocation.Redis.Addr == "" {
			return invalid("revocation.redis.addr", "redis address is required for the redis backend")
		}
	default:
		return invalid("revocation.backend", "unknown revocation backend %q", c.Revocation.Backend)
	}

	switch c.Notify.Backend {
	case NotifyLog:
	case NotifyBrevo:
		if c.Notify.Brevo.APIKey == "" || c.Notify.Brevo.SenderEmail == "" {
			return invalid("notify.brevo", "BREVO_API_KEY and notify.brevo.sender_email are required for the brevo backend")
		}
	case NotifyAMQP:
		if c.Notify.AMQP.URL == "" {
			return invalid("notify.amqp.url", "AMQP_URL is required for the amqp backend")
		}
	default:
		return invalid("notify.backend", "unknown notify backend %q", c.Notify.Backend)
	}

	if c.Google.Enabled() && (c.Google.ClientSecret == "" || c.Google.RedirectURL == "") {
		return invalid("google", "google sign-in needs client_secret and redirect_url")
	}
	return nil
}

// TokenConfig returns the signing configuration.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  []byte(c.Tokens.AccessSecret),
		RefreshSecret: []byte(c.Tokens.RefreshSecret),
		AccessTTL:     c.Tokens.AccessTTL,
		RefreshTTL:    c.Tokens.RefreshTTL,
		Issuer:        c.Tokens.Issuer,
	}
}

// PoolConfig returns the database pool settings.
func (c *Config) PoolConfig() store.PoolConfig {
	return store.PoolConfig{
		MaxConns:        c.Database.MaxConns,
		MinConns:        c.Database.MinConns,
		MaxConnLifetime: c.Database.MaxConnLifetime,
		ConnectTimeout:  c.Database.ConnectTimeout,
	}
}
