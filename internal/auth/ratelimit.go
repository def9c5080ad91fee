// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Rate limiting configuration.
const (
	// LockoutDuration is the time an identifier is locked out after too many failures.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of consecutive failures that triggers a lockout.
	LockoutThreshold = 7
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	// Failures is the number of consecutive failures recorded.
	Failures int

	// IsLockedOut indicates the identifier is temporarily locked.
	IsLockedOut bool

	// LockoutRemaining is the time until the lockout expires.
	LockoutRemaining time.Duration
}

// CheckFailures evaluates the rate limit state at now.
// lockedUntil is the current lockout timestamp (nil if not locked).
func CheckFailures(failures int, lockedUntil *time.Time, now time.Time) RateLimitResult {
	result := RateLimitResult{Failures: failures}
	if IsLockedOutAt(lockedUntil, now) {
		result.IsLockedOut = true
		result.LockoutRemaining = lockedUntil.Sub(now)
	}
	return result
}

// IsLockedOutAt returns true if the lockout time is after now.
func IsLockedOutAt(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// ComputeLockoutTime returns the lockout timestamp for the given failure count.
// Returns nil if failures < LockoutThreshold.
func ComputeLockoutTime(failures int, now time.Time) *time.Time {
	if failures < LockoutThreshold {
		return nil
	}
	lockout := now.Add(LockoutDuration)
	return &lockout
}

type failureState struct {
	failures    int
	lastFailure time.Time
	lockedUntil *time.Time
}

// expired reports whether st no longer affects logins at now. A locked entry
// expires with its lockout, an unlocked one once it has been idle for
// LockoutDuration.
func (st *failureState) expired(now time.Time) bool {
	if st.lockedUntil != nil {
		return !IsLockedOutAt(st.lockedUntil, now)
	}
	return now.Sub(st.lastFailure) >= LockoutDuration
}

// Throttle tracks failed logins per identifier. Identifiers are compared
// after ThrottleKey normalization.
type Throttle interface {
	Check(ctx context.Context, identifier string) (RateLimitResult, error)
	RecordFailure(ctx context.Context, identifier string) (RateLimitResult, error)
	RecordSuccess(ctx context.Context, identifier string) error
}

// sweepEvery is the number of new entries after which RecordFailure drops
// every expired entry.
const sweepEvery = 1024

// LoginThrottle is the in-process Throttle.
// State is keyed by the identifier the caller typed, whether or not a user
// with that identifier exists. Entries expire once idle for LockoutDuration,
// so the map holds at most the identifiers that failed within that window.
type LoginThrottle struct {
	mu      sync.Mutex
	state   map[string]*failureState
	now     func() time.Time
	inserts int
}

var _ Throttle = (*LoginThrottle)(nil)

// NewLoginThrottle creates an empty LoginThrottle using the wall clock.
func NewLoginThrottle() *LoginThrottle {
	return NewLoginThrottleWithClock(time.Now)
}

// NewLoginThrottleWithClock creates an empty LoginThrottle using now as its clock.
func NewLoginThrottleWithClock(now func() time.Time) *LoginThrottle {
	return &LoginThrottle{
		state: make(map[string]*failureState),
		now:   now,
	}
}

// ThrottleKey normalizes identifier for failure tracking.
func ThrottleKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Check returns the current state for identifier. An expired entry is dropped.
func (t *LoginThrottle) Check(_ context.Context, identifier string) (RateLimitResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ThrottleKey(identifier)
	st, ok := t.state[key]
	if !ok {
		return RateLimitResult{}, nil
	}
	now := t.now()
	if st.expired(now) {
		delete(t.state, key)
		return RateLimitResult{}, nil
	}
	return CheckFailures(st.failures, st.lockedUntil, now), nil
}

// RecordFailure counts one failure and sets a lockout once the threshold is reached.
func (t *LoginThrottle) RecordFailure(_ context.Context, identifier string) (RateLimitResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := ThrottleKey(identifier)
	st, ok := t.state[key]
	if ok && st.expired(now) {
		ok = false
	}
	if !ok {
		st = &failureState{}
		t.state[key] = st
		t.inserts++
		if t.inserts >= sweepEvery {
			t.sweepLocked(now)
		}
	}
	st.failures++
	st.lastFailure = now
	st.lockedUntil = ComputeLockoutTime(st.failures, now)
	return CheckFailures(st.failures, st.lockedUntil, now), nil
}

// RecordSuccess forgets all failures for identifier.
func (t *LoginThrottle) RecordSuccess(_ context.Context, identifier string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, ThrottleKey(identifier))
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (t *LoginThrottle) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(t.now())
}

// Len returns the number of tracked identifiers.
func (t *LoginThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.state)
}

func (t *LoginThrottle) sweepLocked(now time.Time) int {
	t.inserts = 0
	removed := 0
	for key, st := range t.state {
		if st.expired(now) {
			delete(t.state, key)
			removed++
		}
	}
	return removed
}
