// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

// Package redis implements auth.SessionRepository on Redis.
//
// Each session is one JSON value under KeyPrefix plus its token hash, stored
// with a TTL that ends at the session's expiry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/umintramurals/campusauth/internal/auth"
)

// KeyPrefix namespaces session keys.
const KeyPrefix = "campusauth:session:"

const scanBatch = 100

// SessionStore is a Redis backed auth.SessionRepository.
type SessionStore struct {
	client goredis.Cmdable
	now    func() time.Time
}

// NewSessionStore creates a SessionStore on client.
func NewSessionStore(client goredis.Cmdable) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

// WithClock replaces the clock used to compute key TTLs.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	s.now = now
	return s
}

// Key returns the Redis key for a token hash.
func Key(tokenHash string) string {
	return KeyPrefix + tokenHash
}

// Create stores session until its expiry. A token hash that is already stored is rejected.
func (s *SessionStore) Create(ctx context.Context, session *auth.Session) error {
	if session == nil || session.TokenHash == "" {
		return oops.Code("SESSION_CREATE_FAILED").Errorf("session with token hash is required")
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return oops.Code("SESSION_CREATE_FAILED").
			With("expires_at", session.ExpiresAt).
			Errorf("session is already expired")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("operation", "encode session").Wrap(err)
	}

	ok, err := s.client.SetNX(ctx, Key(session.TokenHash), data, ttl).Result()
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "set session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	if !ok {
		return oops.Code("SESSION_CREATE_FAILED").Errorf("session token hash already exists")
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (s *SessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	data, err := s.client.Get(ctx, Key(tokenHash)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	var session auth.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "decode session").
			Wrap(err)
	}
	return &session, nil
}

// DeleteByTokenHash removes a session.
func (s *SessionStore) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	n, err := s.client.Del(ctx, Key(tokenHash)).Result()
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	if n == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes sessions that are expired at now but whose keys
// have not yet been evicted by Redis.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return removed, oops.Code("SESSION_DELETE_EXPIRED_FAILED").With("operation", "get session").Wrap(err)
		}

		var session auth.Session
		if err := json.Unmarshal(data, &session); err != nil || session.IsExpiredAt(now) {
			n, err := s.client.Del(ctx, key).Result()
			if err != nil {
				return removed, oops.Code("SESSION_DELETE_EXPIRED_FAILED").With("operation", "delete session").Wrap(err)
			}
			removed += n
		}
	}
	if err := iter.Err(); err != nil {
		return removed, oops.Code("SESSION_DELETE_EXPIRED_FAILED").With("operation", "scan sessions").Wrap(err)
	}
	return removed, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionStore)(nil)

// Options configures Connect.
type Options struct {
	Addr     string
	Password string
	DB       int
	Attempts uint64
	Backoff  time.Duration
}

// Connect creates a client for opts and waits until Redis answers a ping.
func Connect(ctx context.Context, opts Options) (*goredis.Client, error) {
	if opts.Addr == "" {
		return nil, oops.Code("REDIS_CONFIG_INVALID").Errorf("redis address is required")
	}
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 250 * time.Millisecond
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	backoff := retry.WithMaxRetries(opts.Attempts-1, retry.NewExponential(opts.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close() //nolint:errcheck // connect error takes precedence
		return nil, oops.Code("REDIS_CONNECT_FAILED").
			With("addr", opts.Addr).
			With("attempts", opts.Attempts).
			Wrap(err)
	}
	return client, nil
}
