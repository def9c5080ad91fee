// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/pkg/errutil"
)

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	userID := auth.NewID()
	session, err := auth.NewSession(userID, "hash", now, now.Add(time.Hour))
	require.NoError(t, err)

	t.Run("create", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(session.ID.String(), userID.String(), "hash", now, now.Add(time.Hour)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewSessionRepository(mock).Create(ctx, session))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("create failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO sessions`).WillReturnError(errors.New("connection reset"))

		err := NewSessionRepository(mock).Create(ctx, session)
		errutil.AssertErrorCode(t, err, "SESSION_CREATE_FAILED")
	})

	t.Run("get by token hash", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM sessions`).
			WithArgs("hash").
			WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "token_hash", "created_at", "expires_at"}).
				AddRow(session.ID.String(), userID.String(), "hash", now, now.Add(time.Hour)))

		got, err := NewSessionRepository(mock).GetByTokenHash(ctx, "hash")
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.Equal(t, userID, got.UserID)
		assert.True(t, got.ExpiresAt.Equal(session.ExpiresAt))
	})

	t.Run("get missing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM sessions`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

		_, err := NewSessionRepository(mock).GetByTokenHash(ctx, "nope")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("delete missing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE token_hash`).
			WithArgs("nope").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := NewSessionRepository(mock).DeleteByTokenHash(ctx, "nope")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE expires_at`).
			WithArgs(now).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))

		n, err := NewSessionRepository(mock).DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}
