// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenClass distinguishes access tokens from refresh tokens.
type TokenClass string

// Token classes.
const (
	ClassAccess  TokenClass = "access"
	ClassRefresh TokenClass = "refresh"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenPayload is the verified content of a token.
type TokenPayload struct {
	AccountID ulid.ULID
	Email     string
	Role      Role
	Class     TokenClass
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Session is the token pair handed to a client.
type Session struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access-token lifetime in seconds.
	ExpiresIn int
}

// claims is the JWT body. Field names are part of the wire contract.
type claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenRef returns the reference under which a token is recorded in the
// revocation ledger.
func TokenRef(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenConfig carries the signing secrets and lifetimes.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

func (c *TokenConfig) validate() error {
	if len(c.AccessSecret) == 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("access secret is required")
	}
	if len(c.RefreshSecret) == 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("refresh secret is required")
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("access and refresh secrets must differ")
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

func (c *TokenConfig) secret(class TokenClass) []byte {
	if class == ClassRefresh {
		return c.RefreshSecret
	}
	return c.AccessSecret
}

func (c *TokenConfig) ttl(class TokenClass) time.Duration {
	if class == ClassRefresh {
		return c.RefreshTTL
	}
	return c.AccessTTL
}

// Issuer mints signed tokens.
type Issuer struct {
	cfg TokenConfig
	now func() time.Time
}

// NewIssuer creates an Issuer. The two secrets must be present and distinct.
func NewIssuer(cfg TokenConfig) (*Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Issuer{cfg: cfg, now: cfg.Now}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

func (i *Issuer) issue(class TokenClass, accountID ulid.ULID, email string, role Role) (string, error) {
	now := i.now()
	c := claims{
		UserID: accountID.String(),
		Email:  email,
		Role:   role.String(),
		Type:   string(class),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   accountID.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.ttl(class))),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.cfg.secret(class))
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("class", class).Wrap(err)
	}
	tokensIssued.WithLabelValues(string(class)).Inc()
	return signed, nil
}

// IssueAccessToken mints an access token.
func (i *Issuer) IssueAccessToken(accountID ulid.ULID, email string, role Role) (string, error) {
	return i.issue(ClassAccess, accountID, email, role)
}

// IssueRefreshToken mints a refresh token.
func (i *Issuer) IssueRefreshToken(accountID ulid.ULID, email string, role Role) (string, error) {
	return i.issue(ClassRefresh, accountID, email, role)
}

// IssuePair mints an access and a refresh token for the same identity.
func (i *Issuer) IssuePair(accountID ulid.ULID, email string, role Role) (*Session, error) {
	access, err := i.IssueAccessToken(accountID, email, role)
	if err != nil {
		return nil, err
	}
	refresh, err := i.IssueRefreshToken(accountID, email, role)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(i.cfg.AccessTTL / time.Second),
	}, nil
}

// Verifier checks token signatures, expiry and class.
type Verifier struct {
	cfg TokenConfig
	now func() time.Time
}

// NewVerifier creates a Verifier. It must be given the same secrets as the Issuer.
func NewVerifier(cfg TokenConfig) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Verifier{cfg: cfg, now: cfg.Now}, nil
}

func invalidToken(reason string, err error) error {
	b := oops.Code(CodeInvalidToken).With("reason", reason)
	if err != nil {
		return b.Wrap(err)
	}
	return b.Errorf("invalid token: %s", reason)
}

func (v *Verifier) verify(token string, class TokenClass) (*TokenPayload, error) {
	if token == "" {
		return nil, invalidToken("empty", nil)
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return v.cfg.secret(class), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, invalidToken("parse", err)
	}
	if !parsed.Valid {
		return nil, invalidToken("not valid", nil)
	}
	if TokenClass(c.Type) != class {
		return nil, invalidToken("class mismatch", nil)
	}
	if c.UserID == "" || c.Email == "" {
		return nil, invalidToken("missing identity claims", nil)
	}
	accountID, err := ulid.Parse(c.UserID)
	if err != nil {
		return nil, invalidToken("malformed account id", err)
	}

	payload := &TokenPayload{
		AccountID: accountID,
		Email:     c.Email,
		Role:      roleFromClaim(c.Role),
		Class:     class,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		payload.IssuedAt = c.IssuedAt.Time
	}
	return payload, nil
}

// VerifyAccess validates an access token. It never consults the revocation
// ledger.
func (v *Verifier) VerifyAccess(token string) (*TokenPayload, error) {
	return v.verify(token, ClassAccess)
}

// VerifyRefreshSignature validates a refresh token without checking revocation.
func (v *Verifier) VerifyRefreshSignature(token string) (*TokenPayload, error) {
	return v.verify(token, ClassRefresh)
}
