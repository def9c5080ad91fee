// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/auth/filestore"
	"github.com/umintramurals/campusauth/internal/auth/memory"
	"github.com/umintramurals/campusauth/internal/auth/postgres"
	authredis "github.com/umintramurals/campusauth/internal/auth/redis"
	"github.com/umintramurals/campusauth/internal/config"
	"github.com/umintramurals/campusauth/internal/store"
	"github.com/umintramurals/campusauth/internal/xdg"
)

// Stores holds the repositories chosen by configuration.
type Stores struct {
	Users    auth.UserRepository
	Sessions auth.SessionRepository
	// Throttle is nil unless the session backend can share login failure
	// state between processes.
	Throttle auth.Throttle
	closers  []func()
}

// Close releases every connection the stores hold, newest first.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// StoreOpener opens the stores for cfg. withSessions is false for commands
// that only touch users.
type StoreOpener func(ctx context.Context, cfg *config.Config, withSessions bool) (*Stores, error)

// openStores is the default StoreOpener.
func openStores(ctx context.Context, cfg *config.Config, withSessions bool) (*Stores, error) {
	s := &Stores{}
	var pool *pgxpool.Pool

	switch cfg.Store.Driver {
	case config.StorePostgres:
		p, err := store.OpenPool(ctx, cfg.Store.DatabaseURL, store.PoolConfig{})
		if err != nil {
			return nil, err
		}
		pool = p
		s.closers = append(s.closers, pool.Close)
		s.Users = postgres.NewUserRepository(pool)
		slog.Info("connected to database")
	default:
		if cfg.Store.Path == xdg.UsersFile() {
			if err := xdg.EnsureDir(xdg.DataDir()); err != nil {
				return nil, err
			}
		}
		fs, err := filestore.New(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		if err := fs.Init(ctx); err != nil {
			return nil, err
		}
		s.Users = fs
		slog.Info("using file user store", "path", fs.Path())
	}

	if !withSessions {
		return s, nil
	}

	switch cfg.Sessions.Driver {
	case config.SessionsRedis:
		client, err := authredis.Connect(ctx, authredis.Options{
			Addr:     cfg.Sessions.RedisAddr,
			Password: cfg.Sessions.RedisPassword,
			DB:       cfg.Sessions.RedisDB,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() {
			if err := client.Close(); err != nil {
				slog.Warn("error closing redis client", "error", err)
			}
		})
		s.Sessions = authredis.NewSessionStore(client)
		s.Throttle = authredis.NewThrottle(client)
		slog.Info("connected to redis", "addr", cfg.Sessions.RedisAddr)
	case config.SessionsPostgres:
		if pool == nil {
			s.Close()
			return nil, oops.Code("CONFIG_INVALID").
				With("key", "sessions.driver").
				Errorf("the postgres session driver requires the postgres store driver")
		}
		s.Sessions = postgres.NewSessionRepository(pool)
	default:
		s.Sessions = memory.NewSessionStore()
	}

	return s, nil
}
