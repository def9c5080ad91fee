// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

const (
	rememberIssuer   = "campusauth"
	rememberAudience = "remember"
)

// rememberClaims are the claims carried by a remember token. The subject is the user ID.
type rememberClaims struct {
	jwt.RegisteredClaims
}

// CreateRememberToken mints a signed remember token for userID.
func (i *TokenIssuer) CreateRememberToken(userID ulid.ULID) (RememberToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return RememberToken{}, oops.Code("REMEMBER_INVALID_USER").Errorf("user ID cannot be zero")
	}

	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return RememberToken{}, oops.Code("REMEMBER_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}

	now := i.now()
	expiresAt := now.Add(i.rememberTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, rememberClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    rememberIssuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{rememberAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        hex.EncodeToString(jti),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return RememberToken{}, oops.Code("REMEMBER_TOKEN_SIGN_FAILED").Wrap(err)
	}

	// NumericDate truncates to whole seconds; report what the token carries.
	return RememberToken{Token: signed, ExpiresAt: jwt.NewNumericDate(expiresAt).Time}, nil
}

// ValidateRememberToken returns the user a remember token was issued to.
func (i *TokenIssuer) ValidateRememberToken(token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
	}

	claims := &rememberClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(rememberIssuer),
		jwt.WithAudience(rememberAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ulid.ULID{}, oops.Code(CodeSessionExpired).Wrap(ErrSessionExpired)
		}
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).
			With("reason", err.Error()).
			Wrap(ErrSessionInvalid)
	}
	if !parsed.Valid {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).
			With("reason", "subject is not a user ID").
			Wrap(ErrSessionInvalid)
	}
	return userID, nil
}
