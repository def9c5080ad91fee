// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/httpapi"
	"github.com/umintramurals/campusauth/internal/logging"
	"github.com/umintramurals/campusauth/internal/observability"
	"github.com/umintramurals/campusauth/pkg/errutil"
)

const (
	shutdownTimeout = 5 * time.Second
	sweepInterval   = 10 * time.Minute
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// OpenStores opens the user and session repositories.
	// Default: openStores
	OpenStores StoreOpener

	// OnReady is called with the API address once requests are accepted.
	OnReady func(apiAddr, metricsAddr string)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the registration and login API, plus the metrics and health
endpoints when metrics-addr is set. SIGINT or SIGTERM shut it down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, deps)
		},
	}
}

func runServe(cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.OpenStores == nil {
		deps.OpenStores = openStores
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return oops.With("operation", "load configuration").Wrap(err)
	}

	logger := logging.SetDefault(logging.Options{
		Service: "campusauth",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting campusauth",
		"http_addr", cfg.HTTP.Addr,
		"store_driver", cfg.Store.Driver,
		"sessions_driver", cfg.Sessions.Driver)

	var ready atomic.Bool
	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, ready.Load)
		metrics = obsServer.Metrics()
	}

	stores, err := deps.OpenStores(ctx, cfg, true)
	if err != nil {
		return oops.With("operation", "open stores").Wrap(err)
	}
	defer stores.Close()

	secret, generated, err := cfg.RememberSecret()
	if err != nil {
		return err
	}
	if generated {
		logger.Warn("remember.secret is not set; using a random key, remember tokens will not survive a restart")
	}

	hasher := auth.NewArgon2idHasher()
	issuer, err := auth.NewTokenIssuer(stores.Sessions, auth.IssuerConfig{
		SessionTTL:     cfg.Sessions.TTL,
		RememberTTL:    cfg.Remember.TTL,
		RememberSecret: secret,
	})
	if err != nil {
		return err
	}
	registration, err := auth.NewRegistrationServiceWithLogger(stores.Users, hasher, logger)
	if err != nil {
		return err
	}
	authService, err := auth.NewAuthServiceWithLogger(stores.Users, issuer, hasher, logger)
	if err != nil {
		return err
	}
	var localThrottle *auth.LoginThrottle
	if stores.Throttle != nil {
		authService.WithThrottle(stores.Throttle)
	} else {
		localThrottle = auth.NewLoginThrottle()
		authService.WithThrottle(localThrottle)
	}

	api, err := httpapi.New(registration, authService, httpapi.Options{
		Logger:         logger,
		Metrics:        metrics,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		SecureCookies:  cfg.Cookies.Secure,
	})
	if err != nil {
		return err
	}

	apiErrCh, err := api.Start(cfg.HTTP.Addr)
	if err != nil {
		return err
	}

	var obsErrCh <-chan error
	metricsAddr := ""
	if obsServer != nil {
		obsErrCh, err = obsServer.Start()
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := api.Stop(shutdownCtx); stopErr != nil {
				logger.Warn("failed to stop api server during cleanup", "error", stopErr)
			}
			return oops.With("operation", "start observability server").Wrap(err)
		}
		metricsAddr = obsServer.Addr()
	}

	go sweepExpired(ctx, issuer, localThrottle, logger)

	ready.Store(true)
	cmd.Println("campusauth listening on " + api.Addr())
	if deps.OnReady != nil {
		deps.OnReady(api.Addr(), metricsAddr)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-apiErrCh:
		if ok && err != nil {
			runErr = oops.Code("HTTPAPI_SERVE_FAILED").Wrap(err)
		}
	case err, ok := <-obsErrCh:
		if ok && err != nil {
			runErr = oops.Code("OBSERVABILITY_SERVE_FAILED").Wrap(err)
		}
	}
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := api.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// sweepExpired removes expired sessions and idle throttle entries until ctx
// is done. throttle may be nil.
func sweepExpired(ctx context.Context, issuer *auth.TokenIssuer, throttle *auth.LoginThrottle, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if throttle != nil {
				if n := throttle.Sweep(); n > 0 {
					logger.Debug("idle throttle entries removed", "count", n)
				}
			}
			n, err := issuer.SweepExpired(ctx)
			if err != nil {
				errutil.LogErrorContext(ctx, logger, "session sweep failed", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}
