// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/umintramurals/campusauth/internal/auth"
)

// MockSessionRepository is a testify mock of auth.SessionRepository.
type MockSessionRepository struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, session
func (_m *MockSessionRepository) Create(ctx context.Context, session *auth.Session) error {
	ret := _m.Called(ctx, session)

	if len(ret) == 0 {
		panic("no return value specified for Create")
	}
	return ret.Error(0)
}

// GetByTokenHash provides a mock function with given fields: ctx, tokenHash
func (_m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	ret := _m.Called(ctx, tokenHash)

	if len(ret) == 0 {
		panic("no return value specified for GetByTokenHash")
	}

	var r0 *auth.Session
	if v := ret.Get(0); v != nil {
		r0 = v.(*auth.Session)
	}
	return r0, ret.Error(1)
}

// DeleteByTokenHash provides a mock function with given fields: ctx, tokenHash
func (_m *MockSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	ret := _m.Called(ctx, tokenHash)

	if len(ret) == 0 {
		panic("no return value specified for DeleteByTokenHash")
	}
	return ret.Error(0)
}

// DeleteExpired provides a mock function with given fields: ctx, now
func (_m *MockSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ret := _m.Called(ctx, now)

	if len(ret) == 0 {
		panic("no return value specified for DeleteExpired")
	}

	var r0 int64
	if v := ret.Get(0); v != nil {
		r0 = v.(int64)
	}
	return r0, ret.Error(1)
}

// NewMockSessionRepository creates a new instance of MockSessionRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockSessionRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSessionRepository {
	m := &MockSessionRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
