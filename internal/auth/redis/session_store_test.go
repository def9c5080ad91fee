// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package redis_test

import (
	"context"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/auth/redis"
	"github.com/umintramurals/campusauth/pkg/errutil"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "campusauth:session:abc", redis.Key("abc"))
}

func TestSessionStore_CreateRejectsInvalidSessions(t *testing.T) {
	// Validation happens before any command reaches the client.
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := redis.NewSessionStore(client).WithClock(func() time.Time { return now })

	err := store.Create(context.Background(), nil)
	errutil.AssertErrorCode(t, err, "SESSION_CREATE_FAILED")

	expired := &auth.Session{
		ID:        auth.NewID(),
		UserID:    auth.NewID(),
		TokenHash: "hash",
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	err = store.Create(context.Background(), expired)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already expired")
}

func TestConnect(t *testing.T) {
	t.Run("requires address", func(t *testing.T) {
		_, err := redis.Connect(context.Background(), redis.Options{})
		errutil.AssertErrorCode(t, err, "REDIS_CONFIG_INVALID")
	})

	t.Run("unreachable server", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := redis.Connect(ctx, redis.Options{Addr: "127.0.0.1:1", Attempts: 2, Backoff: 10 * time.Millisecond})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "REDIS_CONNECT_FAILED")
	})
}

func TestThrottleKeys(t *testing.T) {
	failures, lockout := redis.ThrottleKeys("  Alice@X.edu ")
	again, _ := redis.ThrottleKeys("alice@x.edu")

	assert.Equal(t, failures, again, "identifiers are normalized")
	assert.True(t, strings.HasPrefix(failures, redis.FailurePrefix))
	assert.True(t, strings.HasPrefix(lockout, redis.LockoutPrefix))
	assert.Len(t, strings.TrimPrefix(failures, redis.FailurePrefix), 64)

	long, _ := redis.ThrottleKeys(strings.Repeat("x", 10000))
	assert.Len(t, long, len(redis.FailurePrefix)+64)
}

func TestThrottle_UnreachableServer(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	th := redis.NewThrottle(client)
	ctx := context.Background()

	_, err := th.Check(ctx, "alice")
	errutil.AssertErrorCode(t, err, "THROTTLE_CHECK_FAILED")

	_, err = th.RecordFailure(ctx, "alice")
	errutil.AssertErrorCode(t, err, "THROTTLE_RECORD_FAILED")

	err = th.RecordSuccess(ctx, "alice")
	errutil.AssertErrorCode(t, err, "THROTTLE_RESET_FAILED")
}
