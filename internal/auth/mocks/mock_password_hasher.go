// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package mocks

import (
	"github.com/stretchr/testify/mock"
)

// MockPasswordHasher is a testify mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// Hash provides a mock function with given fields: password
func (_m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := _m.Called(password)

	if len(ret) == 0 {
		panic("no return value specified for Hash")
	}

	if rf, ok := ret.Get(0).(func(string) (string, error)); ok {
		return rf(password)
	}
	return ret.String(0), ret.Error(1)
}

// Verify provides a mock function with given fields: password, hash
func (_m *MockPasswordHasher) Verify(password string, hash string) bool {
	ret := _m.Called(password, hash)

	if len(ret) == 0 {
		panic("no return value specified for Verify")
	}

	if rf, ok := ret.Get(0).(func(string, string) bool); ok {
		return rf(password, hash)
	}
	return ret.Bool(0)
}

// NeedsUpgrade provides a mock function with given fields: hash
func (_m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	ret := _m.Called(hash)

	if len(ret) == 0 {
		panic("no return value specified for NeedsUpgrade")
	}

	if rf, ok := ret.Get(0).(func(string) bool); ok {
		return rf(hash)
	}
	return ret.Bool(0)
}

// NewMockPasswordHasher creates a new instance of MockPasswordHasher. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
