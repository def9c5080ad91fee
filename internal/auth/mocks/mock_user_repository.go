// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/umintramurals/campusauth/internal/auth"
)

// MockUserRepository is a testify mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

func userResult(ret mock.Arguments) (*auth.User, error) {
	var r0 *auth.User
	if v := ret.Get(0); v != nil {
		r0 = v.(*auth.User)
	}
	return r0, ret.Error(1)
}

// List provides a mock function with given fields: ctx
func (_m *MockUserRepository) List(ctx context.Context) ([]*auth.User, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for List")
	}

	var r0 []*auth.User
	if v := ret.Get(0); v != nil {
		r0 = v.([]*auth.User)
	}
	return r0, ret.Error(1)
}

// FindByIdentifier provides a mock function with given fields: ctx, identifier
func (_m *MockUserRepository) FindByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	ret := _m.Called(ctx, identifier)

	if len(ret) == 0 {
		panic("no return value specified for FindByIdentifier")
	}
	return userResult(ret)
}

// FindByID provides a mock function with given fields: ctx, id
func (_m *MockUserRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for FindByID")
	}
	return userResult(ret)
}

// ExistsAny provides a mock function with given fields: ctx, username, email, studentID
func (_m *MockUserRepository) ExistsAny(ctx context.Context, username string, email string, studentID string) (bool, error) {
	ret := _m.Called(ctx, username, email, studentID)

	if len(ret) == 0 {
		panic("no return value specified for ExistsAny")
	}
	return ret.Bool(0), ret.Error(1)
}

// Create provides a mock function with given fields: ctx, user
func (_m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	ret := _m.Called(ctx, user)

	if len(ret) == 0 {
		panic("no return value specified for Create")
	}
	return ret.Error(0)
}

// Update provides a mock function with given fields: ctx, id, mutate
func (_m *MockUserRepository) Update(ctx context.Context, id ulid.ULID, mutate func(*auth.User)) error {
	ret := _m.Called(ctx, id, mutate)

	if len(ret) == 0 {
		panic("no return value specified for Update")
	}
	return ret.Error(0)
}

// NewMockUserRepository creates a new instance of MockUserRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
