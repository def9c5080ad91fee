// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package auth

import (
	"errors"
	"strings"

	"github.com/samber/oops"
)

// Error codes attached to errors returned by this package and its stores.
const (
	CodeValidation         = "AUTH_VALIDATION_FAILED"
	CodeConflict           = "AUTH_CONFLICT"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeRateLimited        = "AUTH_RATE_LIMITED"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodePersistence        = "STORE_PERSISTENCE_FAILED"
)

// InvalidCredentialsMessage is the only message a caller ever sees for a failed login.
const InvalidCredentialsMessage = "Invalid username or password"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials is returned for every failed login, whatever the cause.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrRateLimited is returned while an identifier is locked out.
	ErrRateLimited = errors.New("too many failed login attempts")

	// ErrSessionInvalid is returned for unknown, malformed or revoked session handles.
	ErrSessionInvalid = errors.New("invalid session")

	// ErrSessionExpired is returned for a session or remember token past its expiry.
	ErrSessionExpired = errors.New("session expired")
)

// FieldError describes one rejected registration field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every rejected field in the fixed registration check order.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field returns the first rejected field.
func (e *ValidationError) Field() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Field
}

// Unique fields, in the order conflicts are checked.
const (
	FieldUsername  = "username"
	FieldEmail     = "email"
	FieldStudentID = "studentId"
)

// ConflictError reports which unique field an existing user already holds.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return e.Field + " already in use"
}

// Message returns the caller-facing text for the conflicting field.
func (e *ConflictError) Message() string {
	switch e.Field {
	case FieldUsername:
		return "Username already exists"
	case FieldEmail:
		return "Email already registered"
	case FieldStudentID:
		return "Student ID already registered"
	default:
		return "Already registered"
	}
}

// PersistenceError reports that the user store could not be read or written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence failure during " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps field errors with the validation code.
func NewValidationError(fields []FieldError) error {
	first := ""
	if len(fields) > 0 {
		first = fields[0].Field
	}
	return oops.Code(CodeValidation).
		With("field", first).
		Wrap(&ValidationError{Errors: fields})
}

// NewConflictError wraps a ConflictError for field with the conflict code.
func NewConflictError(field string) error {
	return oops.Code(CodeConflict).
		With("field", field).
		Wrap(&ConflictError{Field: field})
}

// NewPersistenceError wraps err as a PersistenceError for the named operation.
func NewPersistenceError(op string, err error) error {
	return oops.Code(CodePersistence).
		With("operation", op).
		Wrap(&PersistenceError{Op: op, Err: err})
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
}
