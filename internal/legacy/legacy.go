// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

// Package legacy imports the users.json document written by the previous PHP
// registration pages into a UserRepository.
//
// Two record shapes exist in the wild. The registration page wrote
// registrationDate, newsletter and isActive. The users API wrote role,
// dateRegistered and lastLogin. Both carry a PHP password_hash value
// (bcrypt, "$2y$"), which is kept as is and upgraded on the next login.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/umintramurals/campusauth/internal/auth"
)

// TimeLayout is the timestamp format of the legacy document. Values carry no
// zone and are read as UTC.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one user as stored in the legacy document.
type Record struct {
	ID               json.RawMessage `json:"id"`
	FirstName        string          `json:"firstName"`
	LastName         string          `json:"lastName"`
	Email            string          `json:"email"`
	Username         string          `json:"username"`
	StudentID        string          `json:"studentId"`
	Department       string          `json:"department"`
	Password         string          `json:"password"`
	Role             string          `json:"role"`
	RegistrationDate string          `json:"registrationDate"`
	DateRegistered   string          `json:"dateRegistered"`
	LastLogin        *string         `json:"lastLogin"`
	Newsletter       *bool           `json:"newsletter"`
	IsActive         *bool           `json:"isActive"`
}

// Parse decodes a legacy document. An empty document holds no records.
func Parse(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, oops.Code("LEGACY_READ_FAILED").Wrap(err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return []Record{}, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, oops.Code("LEGACY_DECODE_FAILED").Wrap(err)
	}
	return records, nil
}

// Convert maps a legacy record to a User with a fresh ID. now stands in for
// a missing registration date.
func Convert(rec Record, now time.Time) (*auth.User, error) {
	invalid := func(field, msg string) error {
		return oops.Code("LEGACY_INVALID_RECORD").
			With("username", rec.Username).
			With("field", field).
			Errorf("%s", msg)
	}

	u := &auth.User{
		ID:           auth.NewID(),
		FirstName:    strings.TrimSpace(rec.FirstName),
		LastName:     strings.TrimSpace(rec.LastName),
		Email:        strings.TrimSpace(rec.Email),
		Username:     strings.TrimSpace(rec.Username),
		StudentID:    strings.TrimSpace(rec.StudentID),
		Department:   strings.TrimSpace(rec.Department),
		PasswordHash: rec.Password,
		Role:         auth.RoleStudent,
		RegisteredAt: now.UTC(),
		IsActive:     true,
	}
	if u.Username == "" {
		return nil, invalid(auth.FieldUsername, "username is missing")
	}
	if u.Email == "" {
		return nil, invalid(auth.FieldEmail, "email is missing")
	}
	if !auth.IsSupportedHash(u.PasswordHash) {
		return nil, invalid("password", "password hash format is not supported")
	}
	if auth.Role(rec.Role) == auth.RoleAdmin {
		u.Role = auth.RoleAdmin
	}
	if rec.IsActive != nil {
		u.IsActive = *rec.IsActive
	}
	if rec.Newsletter != nil {
		u.NewsletterOptIn = *rec.Newsletter
	}

	registered := rec.RegistrationDate
	if registered == "" {
		registered = rec.DateRegistered
	}
	if registered != "" {
		t, err := time.Parse(TimeLayout, registered)
		if err != nil {
			return nil, invalid("registrationDate", "registration date is malformed")
		}
		u.RegisteredAt = t.UTC()
	}
	if rec.LastLogin != nil && *rec.LastLogin != "" {
		t, err := time.Parse(TimeLayout, *rec.LastLogin)
		if err != nil {
			return nil, invalid("lastLogin", "last login is malformed")
		}
		t = t.UTC()
		u.LastLoginAt = &t
	}
	return u, nil
}

// Report counts the outcome of an import.
type Report struct {
	Imported int
	Skipped  int // a unique field was already taken
	Invalid  int // the record could not be converted
}

// Importer copies legacy records into a UserRepository.
type Importer struct {
	users  auth.UserRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewImporter creates an Importer. A nil logger uses slog.Default.
func NewImporter(users auth.UserRepository, logger *slog.Logger) (*Importer, error) {
	if users == nil {
		return nil, oops.Code("LEGACY_INVALID_IMPORTER").Errorf("user repository is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{users: users, logger: logger, now: time.Now}, nil
}

// Import creates a user for every record whose unique fields are free.
// Records are processed in document order, so the first holder of a
// duplicated value wins. A storage failure stops the import.
func (im *Importer) Import(ctx context.Context, records []Record) (Report, error) {
	var report Report
	for i, rec := range records {
		user, err := Convert(rec, im.now())
		if err != nil {
			report.Invalid++
			im.logger.WarnContext(ctx, "legacy record skipped",
				"index", i,
				"username", rec.Username,
				"error", err.Error())
			continue
		}

		if err := im.users.Create(ctx, user); err != nil {
			var conflict *auth.ConflictError
			if errors.As(err, &conflict) {
				report.Skipped++
				im.logger.InfoContext(ctx, "legacy user already present",
					"index", i,
					"username", user.Username,
					"field", conflict.Field)
				continue
			}
			return report, oops.Code("LEGACY_IMPORT_FAILED").
				With("index", i).
				With("username", user.Username).
				Wrap(err)
		}
		report.Imported++
	}

	im.logger.InfoContext(ctx, "legacy import finished",
		"imported", report.Imported,
		"skipped", report.Skipped,
		"invalid", report.Invalid)
	return report, nil
}
