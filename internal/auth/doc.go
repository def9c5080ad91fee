// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

// Package auth provides account registration and authentication for campusauth.
//
// # Domain Types
//
// User is the persisted account record. PublicUser is its caller-safe
// projection and is the only form that leaves the service; it has no
// password hash field at all. Session binds a hashed session token to a
// user. RememberToken is a signed, self-contained credential substitute.
//
// # Services
//
// Service types coordinate domain operations:
//   - RegistrationService - field validation and account creation
//   - Service - login, session resumption, logout, user listing
//   - TokenIssuer - session handles and remember tokens
//
// Services are created with New* constructors that validate dependencies.
//
// # Storage
//
// UserRepository and SessionRepository are implemented by the filestore,
// postgres, memory and redis subpackages. A UserRepository performs its
// uniqueness check and its write as one atomic step.
package auth
