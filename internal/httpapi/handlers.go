// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/oops"

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

const tokenKey = "bearer_token"

// UserView is the public projection of an account.
type UserView struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"emailVerified"`
	Name          string    `json:"name,omitempty"`
	Picture       string    `json:"picture,omitempty"`
	HasPassword   bool      `json:"hasPassword"`
	CreatedAt     time.Time `json:"created_at"`
}

func userView(a *auth.Account) UserView {
	return UserView{
		ID:            a.ID.String(),
		Username:      a.Username,
		Email:         a.Email,
		Role:          a.Role.String(),
		EmailVerified: a.EmailVerified,
		Name:          a.DisplayName,
		Picture:       a.PictureURL,
		HasPassword:   a.HasPassword(),
		CreatedAt:     a.CreatedAt,
	}
}

// SessionView is a token pair as returned to clients.
type SessionView struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

func sessionView(s *auth.Session) SessionView {
	return SessionView{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresIn:    s.ExpiresIn,
	}
}

// SessionResponse is returned by every operation that starts a session.
type SessionResponse struct {
	Message string `json:"message"`
	SessionView
	User *UserView `json:"user,omitempty"`
}

// MessageResponse carries a human-readable outcome.
type MessageResponse struct {
	Message string `json:"message"`
}

// requireBearer rejects requests without a bearer token and stores the raw
// token for the handler. Signature and role checks happen in auth.Service.
func requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if token == "" {
			return oops.Code(auth.CodeUnauthorized).Errorf("missing bearer token")
		}
		c.Set(tokenKey, token)
		return next(c)
	}
}

func bearer(c echo.Context) string {
	token, _ := c.Get(tokenKey).(string)
	return token
}

// bind reads the request body and validates it against the named schema.
func bind(c echo.Context, schema string, dst any) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request body too large")
	}
	return validateBody(schema, body, dst)
}

func (s *Server) signup(c echo.Context) error {
	var req SignupRequest
	if err := bind(c, "signup", &req); err != nil {
		return err
	}
	account, err := s.svc.Signup(c.Request().Context(), req.Username, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "User created successfully. Check your email for the verification code.",
		"user":    userView(account),
	})
}

func (s *Server) verifyOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := bind(c, "verify-otp", &req); err != nil {
		return err
	}
	session, account, err := s.svc.VerifyOTP(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return err
	}
	view := userView(account)
	return c.JSON(http.StatusOK, SessionResponse{
		Message:     "Email verified successfully",
		SessionView: sessionView(session),
		User:        &view,
	})
}

func (s *Server) login(c echo.Context) error {
	var req LoginRequest
	if err := bind(c, "login", &req); err != nil {
		return err
	}
	session, account, err := s.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	view := userView(account)
	return c.JSON(http.StatusOK, SessionResponse{
		Message:     "Login successful",
		SessionView: sessionView(session),
		User:        &view,
	})
}

func (s *Server) refresh(c echo.Context) error {
	var req RefreshRequest
	if err := bind(c, "refresh", &req); err != nil {
		return err
	}
	session, err := s.svc.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Message:     "Token refreshed successfully",
		SessionView: sessionView(session),
	})
}

func (s *Server) logout(c echo.Context) error {
	var req RefreshRequest
	if err := bind(c, "refresh", &req); err != nil {
		return err
	}
	if err := s.svc.Logout(c.Request().Context(), bearer(c), req.RefreshToken); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

func (s *Server) logoutAll(c echo.Context) error {
	if err := s.svc.LogoutAll(c.Request().Context(), bearer(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Logged out from all devices successfully"})
}

func (s *Server) forgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := bind(c, "forgot-password", &req); err != nil {
		return err
	}
	if err := s.svc.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: "If the email exists, a password reset OTP has been sent.",
	})
}

func (s *Server) resetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := bind(c, "reset-password", &req); err != nil {
		return err
	}
	if err := s.svc.ResetPassword(c.Request().Context(), req.Email, req.Code, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Password reset successfully"})
}

func (s *Server) me(c echo.Context) error {
	account, err := s.svc.Me(c.Request().Context(), bearer(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": userView(account)})
}
