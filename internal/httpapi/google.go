// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gatekeeper/gatekeeper/internal/oauth"
)

const (
	stateCookieName = "gk_oauth_state"
	stateCookieTTL  = 10 * time.Minute
)

func (s *Server) oauthStateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     stateCookieName,
		Value:    value,
		Path:     "/api/auth/google",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) googleRedirect(c echo.Context) error {
	state, err := oauth.NewState()
	if err != nil {
		return err
	}
	c.SetCookie(s.oauthStateCookie(state, int(stateCookieTTL.Seconds())))
	return c.Redirect(http.StatusFound, s.google.AuthCodeURL(state))
}

func (s *Server) googleCallback(c echo.Context) error {
	cookie, err := c.Cookie(stateCookieName)
	state := c.QueryParam("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid OAuth state")
	}
	c.SetCookie(s.oauthStateCookie("", -1))

	if c.QueryParam("error") != "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Google sign-in was cancelled")
	}
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No code provided")
	}

	session, account, err := s.svc.ExternalLogin(c.Request().Context(), code)
	if err != nil {
		return err
	}
	view := userView(account)
	return c.JSON(http.StatusOK, SessionResponse{
		Message:     "Google login successful",
		SessionView: sessionView(session),
		User:        &view,
	})
}
