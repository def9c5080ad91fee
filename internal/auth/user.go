// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package auth

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the authorization tier of a user.
type Role string

// Known roles.
const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// User is a registered account as persisted by a UserRepository.
type User struct {
	ID              ulid.ULID  `json:"id"`
	FirstName       string     `json:"firstName"`
	LastName        string     `json:"lastName"`
	Email           string     `json:"email"`
	Username        string     `json:"username"`
	StudentID       string     `json:"studentId"`
	Department      string     `json:"department"`
	PasswordHash    string     `json:"passwordHash"`
	Role            Role       `json:"role"`
	RegisteredAt    time.Time  `json:"registeredAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	IsActive        bool       `json:"isActive"`
	NewsletterOptIn bool       `json:"newsletterOptIn"`
}

// PublicUser is the caller-safe projection of a User. It has no password hash field.
type PublicUser struct {
	ID              ulid.ULID  `json:"id"`
	FirstName       string     `json:"firstName"`
	LastName        string     `json:"lastName"`
	Email           string     `json:"email"`
	Username        string     `json:"username"`
	StudentID       string     `json:"studentId"`
	Department      string     `json:"department"`
	Role            Role       `json:"role"`
	RegisteredAt    time.Time  `json:"registeredAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	IsActive        bool       `json:"isActive"`
	NewsletterOptIn bool       `json:"newsletterOptIn"`
}

// Public returns the projection of u that is safe to hand to a caller.
func (u *User) Public() PublicUser {
	p := PublicUser{
		ID:              u.ID,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Email:           u.Email,
		Username:        u.Username,
		StudentID:       u.StudentID,
		Department:      u.Department,
		Role:            u.Role,
		RegisteredAt:    u.RegisteredAt,
		IsActive:        u.IsActive,
		NewsletterOptIn: u.NewsletterOptIn,
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		p.LastLoginAt = &t
	}
	return p
}

// PublicUsers projects a slice of users, preserving order.
func PublicUsers(users []*User) []PublicUser {
	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// ConflictField returns the first unique field that u shares with other, or "".
// Fields are checked in the order username, email, studentId. Emails compare
// case-insensitively.
func (u *User) ConflictField(other *User) string {
	return conflictField(other, u.Username, u.Email, u.StudentID)
}

// FirstConflict returns the first unique field of candidate already held by
// a user in existing. All users are checked for username before email, and
// for email before studentId.
func FirstConflict(existing []*User, candidate *User) string {
	checks := []struct {
		field string
		match func(u *User) bool
	}{
		{FieldUsername, func(u *User) bool { return u.Username == candidate.Username }},
		{FieldEmail, func(u *User) bool { return strings.EqualFold(u.Email, candidate.Email) }},
		{FieldStudentID, func(u *User) bool { return u.StudentID == candidate.StudentID }},
	}
	empty := map[string]bool{
		FieldUsername:  candidate.Username == "",
		FieldEmail:     candidate.Email == "",
		FieldStudentID: candidate.StudentID == "",
	}
	for _, c := range checks {
		if empty[c.field] {
			continue
		}
		for _, u := range existing {
			if c.match(u) {
				return c.field
			}
		}
	}
	return ""
}

// MatchesAny reports whether u holds any of the given unique values.
func (u *User) MatchesAny(username, email, studentID string) bool {
	return conflictField(u, username, email, studentID) != ""
}

func conflictField(u *User, username, email, studentID string) string {
	switch {
	case username != "" && u.Username == username:
		return FieldUsername
	case email != "" && strings.EqualFold(u.Email, email):
		return FieldEmail
	case studentID != "" && u.StudentID == studentID:
		return FieldStudentID
	}
	return ""
}

// MatchesIdentifier reports whether identifier is u's username or email.
// Both comparisons are exact.
func (u *User) MatchesIdentifier(identifier string) bool {
	return identifier != "" && (u.Username == identifier || u.Email == identifier)
}

// PinImmutable restores the fields an update must not change from orig and
// rejects a mutation that cleared the password hash.
func (u *User) PinImmutable(orig *User) error {
	u.ID = orig.ID
	u.RegisteredAt = orig.RegisteredAt
	u.Username = orig.Username
	u.Email = orig.Email
	u.StudentID = orig.StudentID
	if u.PasswordHash == "" {
		return oops.Code("AUTH_INVALID_UPDATE").
			With("user_id", orig.ID.String()).
			Errorf("password hash cannot be cleared")
	}
	return nil
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID generates a monotonic ULID.
func NewID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// UserRepository manages user persistence.
//
// Create and Update are atomic with respect to each other: the uniqueness
// check and the write happen as one step. Implementations report I/O failures
// as PersistenceError.
type UserRepository interface {
	// List returns every user in insertion order. An absent store is empty.
	List(ctx context.Context) ([]*User, error)

	// FindByIdentifier returns the user whose username or email equals identifier.
	// Returns ErrNotFound if there is none.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)

	// FindByID returns the user with the given ID, or ErrNotFound.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// ExistsAny reports whether any user holds one of the given unique values.
	ExistsAny(ctx context.Context, username, email, studentID string) (bool, error)

	// Create stores a new user. Returns a ConflictError if a unique field is taken.
	Create(ctx context.Context, user *User) error

	// Update applies mutate to the user with the given ID and persists the result.
	// Returns ErrNotFound if there is no such user.
	Update(ctx context.Context, id ulid.ULID, mutate func(*User)) error
}
