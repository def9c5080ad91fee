// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	SessionTokenBytes     = 32                  // 32 bytes = 64 hex chars
	DefaultSessionTTL     = 24 * time.Hour      // server-side session lifetime
	DefaultRememberTTL    = 30 * 24 * time.Hour // remember-me lifetime
	MinRememberSecretSize = 32                  // HS256 key size in bytes
)

// Session binds a hashed session token to a user.
type Session struct {
	ID        ulid.ULID `json:"id"`
	UserID    ulid.ULID `json:"userId"`
	TokenHash string    `json:"tokenHash"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewSession creates a validated Session.
func NewSession(userID ulid.ULID, tokenHash string, createdAt, expiresAt time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").
			With("created_at", createdAt).
			With("expires_at", expiresAt).
			Errorf("expiry must be after creation")
	}
	return &Session{
		ID:        NewID(),
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// SessionHandle is what a caller receives for a new session. Token is shown once.
type SessionHandle struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RememberToken is a long-lived credential substitute held by the client.
type RememberToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the client; the hash is what gets stored.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashSessionToken(token)

	return token, hash, nil
}

// HashSessionToken computes the SHA256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifySessionToken checks if the plaintext token matches the stored hash
// using a constant-time comparison.
func VerifySessionToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashSessionToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SessionRepository manages server-side session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash, or ErrNotFound.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// DeleteByTokenHash removes a session, or returns ErrNotFound.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteExpired removes sessions expired at now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// IssuerConfig configures a TokenIssuer.
type IssuerConfig struct {
	// SessionTTL defaults to DefaultSessionTTL.
	SessionTTL time.Duration
	// RememberTTL defaults to DefaultRememberTTL.
	RememberTTL time.Duration
	// RememberSecret signs remember tokens. At least MinRememberSecretSize bytes.
	RememberSecret []byte
	// Now defaults to time.Now.
	Now func() time.Time
}

// TokenIssuer mints and validates session handles and remember tokens.
type TokenIssuer struct {
	sessions    SessionRepository
	sessionTTL  time.Duration
	rememberTTL time.Duration
	secret      []byte
	now         func() time.Time
}

// NewTokenIssuer creates a TokenIssuer backed by sessions.
func NewTokenIssuer(sessions SessionRepository, cfg IssuerConfig) (*TokenIssuer, error) {
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_ISSUER").Errorf("session repository is required")
	}
	if len(cfg.RememberSecret) < MinRememberSecretSize {
		return nil, oops.Code("AUTH_INVALID_ISSUER").
			With("min_bytes", MinRememberSecretSize).
			Errorf("remember secret is too short")
	}
	if cfg.SessionTTL < 0 || cfg.RememberTTL < 0 {
		return nil, oops.Code("AUTH_INVALID_ISSUER").Errorf("token lifetimes must be positive")
	}
	i := &TokenIssuer{
		sessions:    sessions,
		sessionTTL:  cfg.SessionTTL,
		rememberTTL: cfg.RememberTTL,
		secret:      append([]byte(nil), cfg.RememberSecret...),
		now:         cfg.Now,
	}
	if i.sessionTTL == 0 {
		i.sessionTTL = DefaultSessionTTL
	}
	if i.rememberTTL == 0 {
		i.rememberTTL = DefaultRememberTTL
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i, nil
}

// CreateSession mints a random session handle bound to userID.
func (i *TokenIssuer) CreateSession(ctx context.Context, userID ulid.ULID) (SessionHandle, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return SessionHandle{}, err
	}

	now := i.now()
	session, err := NewSession(userID, tokenHash, now, now.Add(i.sessionTTL))
	if err != nil {
		return SessionHandle{}, err
	}

	if err := i.sessions.Create(ctx, session); err != nil {
		return SessionHandle{}, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("user_id", userID.String()).
			Wrap(err)
	}

	return SessionHandle{Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// ValidateSession returns the user bound to token. Expired sessions are
// removed as they are found.
func (i *TokenIssuer) ValidateSession(ctx context.Context, token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
	}

	tokenHash := HashSessionToken(token)
	session, err := i.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
		}
		return ulid.ULID{}, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if !VerifySessionToken(token, session.TokenHash) {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
	}

	if session.IsExpiredAt(i.now()) {
		_ = i.sessions.DeleteByTokenHash(ctx, tokenHash) //nolint:errcheck // expired either way
		return ulid.ULID{}, oops.Code(CodeSessionExpired).
			With("expires_at", session.ExpiresAt).
			Wrap(ErrSessionExpired)
	}

	return session.UserID, nil
}

// RevokeSession deletes the session for token. Revoking an unknown token is not an error.
func (i *TokenIssuer) RevokeSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := i.sessions.DeleteByTokenHash(ctx, HashSessionToken(token))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// SweepExpired removes expired sessions from the backing repository.
func (i *TokenIssuer) SweepExpired(ctx context.Context) (int64, error) {
	n, err := i.sessions.DeleteExpired(ctx, i.now())
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
