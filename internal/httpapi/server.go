// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package httpapi exposes auth.Service as a JSON API over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/oops"

	"github.com/gatekeeper/gatekeeper/internal/auth"
	"github.com/gatekeeper/gatekeeper/internal/observability"
)

// DefaultBodyLimit caps request bodies.
const DefaultBodyLimit = "64K"

// Redirector builds the identity-provider consent URL for a state value.
type Redirector interface {
	AuthCodeURL(state string) string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records per-route request counts and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGoogle enables the /api/auth/google routes.
func WithGoogle(r Redirector) Option {
	return func(s *Server) { s.google = r }
}

// WithSecureCookies marks the OAuth state cookie Secure. Enable it whenever
// the API is served over TLS.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) { s.secureCookies = secure }
}

// WithAllowedOrigins enables CORS for the given origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// Server serves the auth API.
type Server struct {
	svc           *auth.Service
	echo          *echo.Echo
	logger        *slog.Logger
	metrics       *observability.Metrics
	google        Redirector
	secureCookies bool
	origins       []string

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// New creates a Server for svc and registers every route.
func New(svc *auth.Service, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, oops.Errorf("auth service is required")
	}
	s := &Server{
		svc:    svc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Errorf("logger must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(DefaultBodyLimit))
	if len(s.origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.origins,
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
		}))
	}
	e.Use(s.observe)

	s.echo = e
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	a := s.echo.Group("/api/auth")
	a.POST("/signup", s.signup)
	a.POST("/verify-otp", s.verifyOTP)
	a.POST("/login", s.login)
	a.POST("/refresh", s.refresh)
	a.POST("/logout", s.logout, requireBearer)
	a.POST("/logout/all", s.logoutAll, requireBearer)
	a.POST("/password/forgot", s.forgotPassword)
	a.POST("/password/reset", s.resetPassword)
	a.GET("/me", s.me, requireBearer)
	if s.google != nil {
		a.GET("/google", s.googleRedirect)
		a.GET("/google/callback", s.googleCallback)
	}

	admin := s.echo.Group("/api/admin", requireBearer)
	admin.GET("/users", s.adminListUsers)
	admin.GET("/users/:id", s.adminGetUser)
	admin.PATCH("/users/:id/role", s.adminSetRole)
	admin.DELETE("/users/:id", s.adminDeleteUser)
	admin.GET("/stats", s.adminStats)
	admin.GET("/otps", s.adminListOTPs)
}

// ServeHTTP lets the server be mounted or driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr and serves in the background. The returned channel
// receives a serve failure and is closed when the server stops.
func (s *Server) Start(addr string) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("http server already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("HTTP_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("http server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("operation", "shutdown_http_server").Wrap(err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// observe logs and counts every request once the handler chain returns.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		status := c.Response().Status
		elapsed := time.Since(start)
		s.metrics.Observe(c.Request().Method, route, status, elapsed)

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request().Context(), level, "request",
			"method", c.Request().Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"remote_ip", c.RealIP(),
		)
		return nil
	}
}
