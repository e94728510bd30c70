// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package oauth adapts Google sign-in to auth.IdentityProvider.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

// GoogleUserInfoURL returns the signed-in user's profile.
const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var googleScopes = []string{
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint and UserInfoURL default to Google's; tests point them at a
	// local server.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

// GoogleProvider implements auth.IdentityProvider with the authorization
// code flow.
type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleProvider validates cfg and creates a GoogleProvider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, oops.Code("OAUTH_CONFIG_INVALID").Errorf("google client id and secret are required")
	}
	if cfg.RedirectURL == "" {
		return nil, oops.Code("OAUTH_CONFIG_INVALID").Errorf("google redirect url is required")
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = GoogleUserInfoURL
	}
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       googleScopes,
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// NewState returns a random value for the state parameter.
func NewState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("OAUTH_STATE_FAILED").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthCodeURL is where the user is sent to consent.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account"))
}

type googleUser struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	VerifiedEmail bool   `json:"verified_email"`
}

func (p *GoogleProvider) context(ctx context.Context) context.Context {
	if p.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	return ctx
}

// Exchange trades code for a token and fetches the profile it grants.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*auth.ExternalIdentity, error) {
	ctx = p.context(ctx)

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, oops.Code("OAUTH_EXCHANGE_FAILED").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, oops.Code("OAUTH_USERINFO_FAILED").Wrap(err)
	}
	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, oops.Code("OAUTH_USERINFO_FAILED").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error detail
		return nil, oops.Code("OAUTH_USERINFO_FAILED").
			With("status", resp.StatusCode).
			Errorf("userinfo returned %d: %s", resp.StatusCode, detail)
	}

	var user googleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, oops.Code("OAUTH_USERINFO_FAILED").With("operation", "decode userinfo").Wrap(err)
	}
	if user.Email == "" {
		return nil, oops.Code("OAUTH_USERINFO_INCOMPLETE").Errorf("userinfo has no email")
	}
	return &auth.ExternalIdentity{
		Email:         user.Email,
		Name:          user.Name,
		PictureURL:    user.Picture,
		VerifiedEmail: user.VerifiedEmail,
	}, nil
}
