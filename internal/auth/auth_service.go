// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
)

// LoginInput carries a login attempt. Identifier is a username or an email.
type LoginInput struct {
	Identifier string
	Password   string
	Remember   bool
}

// LoginResult is returned on a successful login or session resumption.
type LoginResult struct {
	User     PublicUser
	Session  SessionHandle
	Remember *RememberToken
}

// Service provides authentication operations.
type Service struct {
	users    UserRepository
	issuer   *TokenIssuer
	hasher   PasswordHasher
	throttle Throttle
	logger   *slog.Logger
}

// NewAuthService creates a new Service logging to slog.Default.
func NewAuthService(users UserRepository, issuer *TokenIssuer, hasher PasswordHasher) (*Service, error) {
	return NewAuthServiceWithLogger(users, issuer, hasher, slog.Default())
}

// NewAuthServiceWithLogger creates a new Service with an explicit logger.
func NewAuthServiceWithLogger(users UserRepository, issuer *TokenIssuer, hasher PasswordHasher, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("user repository is required")
	}
	if issuer == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("token issuer is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("logger is required")
	}
	return &Service{
		users:    users,
		issuer:   issuer,
		hasher:   hasher,
		throttle: NewLoginThrottle(),
		logger:   logger,
	}, nil
}

// WithThrottle replaces the failed-login throttle. It returns s for chaining.
func (s *Service) WithThrottle(t Throttle) *Service {
	if t != nil {
		s.throttle = t
	}
	return s
}

func (s *Service) throttleUnavailable(ctx context.Context, operation string, err error) {
	s.logger.WarnContext(ctx, "login throttle unavailable",
		"operation", operation,
		"error", err.Error())
}

// dummyPasswordHash is verified when no user matches so that unknown
// identifiers cost the same as wrong passwords. It never matches any password.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Login authenticates a user by username or email and issues a session, plus
// a remember token when in.Remember is set. Every failure caused by the
// credentials returns the same ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	identifier := strings.TrimSpace(in.Identifier)

	// Throttle backend errors fail open so a cache outage does not block logins.
	rl, err := s.throttle.Check(ctx, identifier)
	if err != nil {
		s.throttleUnavailable(ctx, "check", err)
	}
	if rl.IsLockedOut {
		return nil, oops.Code(CodeRateLimited).
			With("retry_after", rl.LockoutRemaining.Round(time.Second).String()).
			Wrap(ErrRateLimited)
	}

	var user *User
	targetHash := dummyPasswordHash
	if identifier != "" {
		found, err := s.users.FindByIdentifier(ctx, identifier)
		switch {
		case err == nil:
			user = found
			targetHash = found.PasswordHash
		case errors.Is(err, ErrNotFound):
		default:
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "find user by identifier").
				Wrap(err)
		}
	}

	// Verify even when the user is absent to keep response time constant.
	valid := s.hasher.Verify(in.Password, targetHash)
	if user == nil || in.Password == "" || !valid {
		if _, err := s.throttle.RecordFailure(ctx, identifier); err != nil {
			s.throttleUnavailable(ctx, "record_failure", err)
		}
		s.logger.InfoContext(ctx, "login rejected", "event", "login_failed")
		return nil, invalidCredentials()
	}

	if err := s.throttle.RecordSuccess(ctx, identifier); err != nil {
		s.throttleUnavailable(ctx, "record_success", err)
	}

	now := time.Now().UTC()
	var upgraded string
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if h, err := s.hasher.Hash(in.Password); err == nil {
			upgraded = h
		}
	}
	updateErr := s.users.Update(ctx, user.ID, func(u *User) {
		u.LastLoginAt = &now
		if upgraded != "" {
			u.PasswordHash = upgraded
		}
	})
	if updateErr != nil {
		s.logger.WarnContext(ctx, "best-effort last login update failed",
			"operation", "record_login",
			"user_id", user.ID.String(),
			"error", updateErr.Error())
	}
	user.LastLoginAt = &now

	return s.issue(ctx, user, in.Remember)
}

func (s *Service) issue(ctx context.Context, user *User, remember bool) (*LoginResult, error) {
	handle, err := s.issuer.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	result := &LoginResult{User: user.Public(), Session: handle}
	if remember {
		token, err := s.issuer.CreateRememberToken(user.ID)
		if err != nil {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "create remember token").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		result.Remember = &token
	}

	s.logger.InfoContext(ctx, "session issued",
		"event", "login",
		"user_id", user.ID.String(),
		"remember", remember)
	return result, nil
}

// ResumeFromRememberToken issues a new session for the user a remember token
// names. A bad, expired or orphaned token returns ErrInvalidCredentials.
func (s *Service) ResumeFromRememberToken(ctx context.Context, token string) (*LoginResult, error) {
	userID, err := s.issuer.ValidateRememberToken(token)
	if err != nil {
		s.logger.InfoContext(ctx, "remember token rejected", "event", "resume_failed", "error", err.Error())
		return nil, invalidCredentials()
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("AUTH_RESUME_FAILED").
			With("operation", "find user by id").
			Wrap(err)
	}

	return s.issue(ctx, user, false)
}

// CurrentUser returns the user bound to a session token.
func (s *Service) CurrentUser(ctx context.Context, sessionToken string) (*PublicUser, error) {
	userID, err := s.issuer.ValidateSession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeSessionInvalid).
				With("user_id", userID.String()).
				Wrap(ErrSessionInvalid)
		}
		return nil, oops.With("operation", "find user by id").Wrap(err)
	}

	pub := user.Public()
	return &pub, nil
}

// Logout revokes a session token.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	if err := s.issuer.RevokeSession(ctx, sessionToken); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "session revoked", "event", "logout")
	return nil
}

// ListUsers returns every user's public view in insertion order.
func (s *Service) ListUsers(ctx context.Context) ([]PublicUser, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, oops.With("operation", "list users").Wrap(err)
	}
	return PublicUsers(users), nil
}
