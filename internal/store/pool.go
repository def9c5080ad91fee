// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

// Package store connects to PostgreSQL and manages the schema the postgres
// repositories in internal/auth/postgres rely on.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection retry defaults.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 250 * time.Millisecond
)

// PoolConfig tunes OpenPool.
type PoolConfig struct {
	// MaxConns caps the pool size. Zero keeps the pgx default.
	MaxConns int32
	// Attempts is the number of pings tried before giving up.
	Attempts uint64
	// Backoff is the first retry delay; it doubles on each attempt.
	Backoff time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Attempts == 0 {
		c.Attempts = DefaultConnectAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultConnectBackoff
	}
	return c
}

// OpenPool creates a pgx pool for dsn and waits until the database answers a ping.
func OpenPool(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(cfg.Attempts-1, retry.NewExponential(cfg.Backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", cfg.Attempts).
			Wrap(err)
	}
	return pool, nil
}
