// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gatekeeper/gatekeeper/internal/auth"
)

// RoleCount is one row of the per-role breakdown in StatsView.
type RoleCount struct {
	Role  string `json:"role"`
	Count int    `json:"count"`
}

// StatsView is the body of GET /api/admin/stats.
type StatsView struct {
	TotalUsers          int         `json:"totalUsers"`
	UsersByRole         []RoleCount `json:"usersByRole"`
	RecentRegistrations int         `json:"recentRegistrations"`
}

// OTPView is passcode metadata. Codes are stored hashed and never returned.
type OTPView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) adminListUsers(c echo.Context) error {
	accounts, err := s.svc.AdminListUsers(c.Request().Context(), bearer(c))
	if err != nil {
		return err
	}
	users := make([]UserView, 0, len(accounts))
	for _, a := range accounts {
		users = append(users, userView(a))
	}
	return c.JSON(http.StatusOK, map[string]any{"users": users, "total": len(users)})
}

func (s *Server) adminGetUser(c echo.Context) error {
	account, err := s.svc.AdminGetUser(c.Request().Context(), bearer(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": userView(account)})
}

func (s *Server) adminSetRole(c echo.Context) error {
	var req SetRoleRequest
	if err := bind(c, "set-role", &req); err != nil {
		return err
	}
	account, err := s.svc.AdminSetRole(c.Request().Context(), bearer(c), c.Param("id"), req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "User role updated successfully",
		"user":    userView(account),
	})
}

func (s *Server) adminDeleteUser(c echo.Context) error {
	id := c.Param("id")
	if err := s.svc.AdminDeleteUser(c.Request().Context(), bearer(c), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "User deleted successfully",
		"userId":  id,
	})
}

func (s *Server) adminStats(c echo.Context) error {
	stats, err := s.svc.AdminStats(c.Request().Context(), bearer(c))
	if err != nil {
		return err
	}
	view := StatsView{
		TotalUsers:          stats.Total,
		RecentRegistrations: stats.RecentRegistrations,
		UsersByRole:         make([]RoleCount, 0, len(stats.ByRole)),
	}
	for _, role := range []auth.Role{auth.RoleUser, auth.RoleModerator, auth.RoleAdmin} {
		if n := stats.ByRole[role]; n > 0 {
			view.UsersByRole = append(view.UsersByRole, RoleCount{Role: role.String(), Count: n})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"stats": view})
}

func (s *Server) adminListOTPs(c echo.Context) error {
	otps, err := s.svc.AdminListOTPs(c.Request().Context(), bearer(c))
	if err != nil {
		return err
	}
	views := make([]OTPView, 0, len(otps))
	for _, o := range otps {
		views = append(views, OTPView{
			ID:        o.ID.String(),
			UserID:    o.AccountID.String(),
			Type:      string(o.Purpose),
			CreatedAt: o.CreatedAt,
			ExpiresAt: o.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"otps": views, "total": len(views)})
}
