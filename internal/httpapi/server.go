// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

// Package httpapi exposes registration, login and session endpoints over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/observability"
)

// Options configures a Server. Zero values are usable.
type Options struct {
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	AllowedOrigins []string
	SecureCookies  bool
}

// Server serves the campusauth API.
type Server struct {
	registration  *auth.RegistrationService
	auth          *auth.Service
	logger        *slog.Logger
	metrics       *observability.Metrics
	origins       []string
	secureCookies bool

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// New creates a Server over the given services.
func New(registration *auth.RegistrationService, authService *auth.Service, opts Options) (*Server, error) {
	if registration == nil {
		return nil, oops.Code("HTTPAPI_INVALID_SERVER").Errorf("registration service is required")
	}
	if authService == nil {
		return nil, oops.Code("HTTPAPI_INVALID_SERVER").Errorf("auth service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registration:  registration,
		auth:          authService,
		logger:        logger,
		metrics:       opts.Metrics,
		origins:       opts.AllowedOrigins,
		secureCookies: opts.SecureCookies,
	}, nil
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe(s.logger, s.metrics))
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(corsHandler(s.origins))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, msgNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Get("/users", s.handleListUsers)
		r.Get("/session", s.handleSession)
		r.Post("/logout", s.handleLogout)
	})

	return r
}

// Start listens on addr and serves the API in the background. The returned
// channel receives a serve error, and is closed when the server stops.
func (s *Server) Start(addr string) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("HTTPAPI_ALREADY_RUNNING").Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("HTTPAPI_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
