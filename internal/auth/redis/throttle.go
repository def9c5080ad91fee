// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/umintramurals/campusauth/internal/auth"
)

// Throttle key prefixes. The suffix is the SHA-256 of the normalized
// identifier so key length does not depend on user input.
const (
	FailurePrefix = "campusauth:throttle:failures:"
	LockoutPrefix = "campusauth:throttle:lockout:"
)

// Throttle is an auth.Throttle shared by every process using the same Redis.
//
// Failures are an INCR counter whose TTL is refreshed on each failure, so an
// identifier idle for auth.LockoutDuration is forgotten by Redis itself. At
// auth.LockoutThreshold the counter is replaced by a lockout key that
// expires after auth.LockoutDuration.
type Throttle struct {
	client goredis.Cmdable
}

// NewThrottle creates a Throttle on client.
func NewThrottle(client goredis.Cmdable) *Throttle {
	return &Throttle{client: client}
}

// ThrottleKeys returns the failure counter and lockout keys for identifier.
func ThrottleKeys(identifier string) (failures, lockout string) {
	sum := sha256.Sum256([]byte(auth.ThrottleKey(identifier)))
	suffix := hex.EncodeToString(sum[:])
	return FailurePrefix + suffix, LockoutPrefix + suffix
}

// Check reports the failures recorded for identifier and any active lockout.
func (t *Throttle) Check(ctx context.Context, identifier string) (auth.RateLimitResult, error) {
	failKey, lockKey := ThrottleKeys(identifier)

	remaining, err := t.client.PTTL(ctx, lockKey).Result()
	if err != nil {
		return auth.RateLimitResult{}, oops.Code("THROTTLE_CHECK_FAILED").
			With("operation", "read lockout").
			Wrap(err)
	}
	if remaining > 0 {
		return auth.RateLimitResult{
			Failures:         auth.LockoutThreshold,
			IsLockedOut:      true,
			LockoutRemaining: remaining,
		}, nil
	}

	failures, err := t.client.Get(ctx, failKey).Int()
	if errors.Is(err, goredis.Nil) {
		return auth.RateLimitResult{}, nil
	}
	if err != nil {
		return auth.RateLimitResult{}, oops.Code("THROTTLE_CHECK_FAILED").
			With("operation", "read failures").
			Wrap(err)
	}
	return auth.RateLimitResult{Failures: failures}, nil
}

// RecordFailure counts one failure and sets a lockout once the threshold is reached.
func (t *Throttle) RecordFailure(ctx context.Context, identifier string) (auth.RateLimitResult, error) {
	failKey, lockKey := ThrottleKeys(identifier)

	var incr *goredis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, failKey)
		pipe.PExpire(ctx, failKey, auth.LockoutDuration)
		return nil
	})
	if err != nil {
		return auth.RateLimitResult{}, oops.Code("THROTTLE_RECORD_FAILED").
			With("operation", "count failure").
			Wrap(err)
	}

	failures := int(incr.Val())
	if failures < auth.LockoutThreshold {
		return auth.RateLimitResult{Failures: failures}, nil
	}

	_, err = t.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, lockKey, failures, auth.LockoutDuration)
		pipe.Del(ctx, failKey)
		return nil
	})
	if err != nil {
		return auth.RateLimitResult{}, oops.Code("THROTTLE_RECORD_FAILED").
			With("operation", "set lockout").
			Wrap(err)
	}
	return auth.RateLimitResult{
		Failures:         failures,
		IsLockedOut:      true,
		LockoutRemaining: auth.LockoutDuration,
	}, nil
}

// RecordSuccess forgets all failures for identifier.
func (t *Throttle) RecordSuccess(ctx context.Context, identifier string) error {
	failKey, lockKey := ThrottleKeys(identifier)
	if err := t.client.Del(ctx, failKey, lockKey).Err(); err != nil {
		return oops.Code("THROTTLE_RESET_FAILED").
			With("operation", "delete failures").
			Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.Throttle = (*Throttle)(nil)

