// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package auth_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/auth/mocks"
)

// logEntry represents a parsed JSON log entry.
type logEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Event     string `json:"event"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
	UserID    string `json:"user_id"`
}

func parseEntries(t *testing.T, buf *bytes.Buffer) []logEntry {
	t.Helper()
	var entries []logEntry
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var e logEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func findEntry(entries []logEntry, level string) *logEntry {
	for i := range entries {
		if entries[i].Level == level {
			return &entries[i]
		}
	}
	return nil
}

func TestService_Login_LogsLastLoginUpdateFailure(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	svc, err := auth.NewAuthServiceWithLogger(users, newIssuer(t), hasher, logger)
	require.NoError(t, err)

	user := sampleUser()
	users.On("FindByIdentifier", ctx, "alice").Return(user, nil)
	hasher.On("Verify", "secret1", user.PasswordHash).Return(true)
	hasher.On("NeedsUpgrade", user.PasswordHash).Return(false)
	users.On("Update", ctx, user.ID, mock.Anything).Return(errors.New("database timeout"))

	_, err = svc.Login(ctx, auth.LoginInput{Identifier: "alice", Password: "secret1"})
	require.NoError(t, err)

	entry := findEntry(parseEntries(t, &buf), "WARN")
	require.NotNil(t, entry, "should have logged a warning")
	assert.Contains(t, entry.Msg, "best-effort")
	assert.Equal(t, "record_login", entry.Operation)
	assert.Equal(t, user.ID.String(), entry.UserID)
	assert.Contains(t, entry.Error, "database timeout")
}

func TestService_Login_FailureLogDoesNotNameUser(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	svc, err := auth.NewAuthServiceWithLogger(users, newIssuer(t), hasher, logger)
	require.NoError(t, err)

	users.On("FindByIdentifier", ctx, "alice").Return(sampleUser(), nil)
	hasher.On("Verify", "wrong", mock.Anything).Return(false)

	_, err = svc.Login(ctx, auth.LoginInput{Identifier: "alice", Password: "wrong"})
	require.Error(t, err)

	assert.NotContains(t, buf.String(), "wrong")
	entries := parseEntries(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "login_failed", entries[0].Event)
	assert.Empty(t, entries[0].UserID)
}

func TestService_Login_SuccessLogsSession(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	svc, err := auth.NewAuthServiceWithLogger(users, newIssuer(t), hasher, logger)
	require.NoError(t, err)

	user := sampleUser()
	users.On("FindByIdentifier", ctx, "alice").Return(user, nil)
	hasher.On("Verify", "secret1", user.PasswordHash).Return(true)
	hasher.On("NeedsUpgrade", user.PasswordHash).Return(false)
	users.On("Update", ctx, user.ID, mock.Anything).Return(nil)

	result, err := svc.Login(ctx, auth.LoginInput{Identifier: "alice", Password: "secret1"})
	require.NoError(t, err)

	assert.NotContains(t, buf.String(), result.Session.Token)
	entry := findEntry(parseEntries(t, &buf), "INFO")
	require.NotNil(t, entry)
	assert.Equal(t, "login", entry.Event)
	assert.Equal(t, user.ID.String(), entry.UserID)
}
