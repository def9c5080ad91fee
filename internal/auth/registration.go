// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// Registration field constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	StudentIDLength   = 6
	MinPasswordLength = 6
)

// RegistrationInput is the caller-supplied data for a new account.
// Field order is the order in which validation errors are reported.
type RegistrationInput struct {
	FirstName       string  `json:"firstName" validate:"required"`
	LastName        string  `json:"lastName" validate:"required"`
	Email           string  `json:"email" validate:"required,email"`
	Username        string  `json:"username" validate:"required,username_length"`
	StudentID       string  `json:"studentId" validate:"required,student_id"`
	Department      string  `json:"department" validate:"required"`
	Password        string  `json:"password" validate:"required,password_length"`
	ConfirmPassword *string `json:"confirmPassword,omitempty" validate:"-"`
	NewsletterOptIn bool    `json:"newsletterOptIn" validate:"-"`
}

// trimmed returns a copy with surrounding whitespace removed from every text field.
func (in RegistrationInput) trimmed() RegistrationInput {
	out := in
	out.FirstName = strings.TrimSpace(in.FirstName)
	out.LastName = strings.TrimSpace(in.LastName)
	out.Email = strings.TrimSpace(in.Email)
	out.Username = strings.TrimSpace(in.Username)
	out.StudentID = strings.TrimSpace(in.StudentID)
	out.Department = strings.TrimSpace(in.Department)
	out.Password = strings.TrimSpace(in.Password)
	return out
}

var fieldLabels = map[string]string{
	"firstName":  "First name",
	"lastName":   "Last name",
	"email":      "Email",
	"username":   "Username",
	"studentId":  "Student ID",
	"department": "Department",
	"password":   "Password",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterAlias("username_length", fmt.Sprintf("min=%d,max=%d", MinUsernameLength, MaxUsernameLength))
	v.RegisterAlias("student_id", fmt.Sprintf("len=%d,numeric", StudentIDLength))
	v.RegisterAlias("password_length", fmt.Sprintf("min=%d", MinPasswordLength))
	return v
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	label := fieldLabels[field]
	switch fe.ActualTag() {
	case "required":
		return label + " is required"
	case "email":
		return "Please enter a valid email address"
	case "min":
		return label + " must be at least " + fe.Param() + " characters"
	case "max":
		return label + " must be at most " + fe.Param() + " characters"
	case "len", "numeric":
		return fmt.Sprintf("%s must be %d digits", label, StudentIDLength)
	default:
		return label + " is invalid"
	}
}

// ValidateRegistration checks in and returns a ValidationError listing every
// rejected field in declaration order, or nil.
func ValidateRegistration(in RegistrationInput) error {
	norm := in.trimmed()

	var fields []FieldError
	if err := validate.Struct(norm); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return oops.Code(CodeValidation).Wrap(err)
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
	}

	if in.ConfirmPassword != nil && *in.ConfirmPassword != in.Password {
		fields = append(fields, FieldError{Field: "confirmPassword", Message: "Passwords do not match"})
	}

	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

// RegistrationService creates new accounts.
type RegistrationService struct {
	users  UserRepository
	hasher PasswordHasher
	logger *slog.Logger
}

// NewRegistrationService creates a RegistrationService logging to slog.Default.
func NewRegistrationService(users UserRepository, hasher PasswordHasher) (*RegistrationService, error) {
	return NewRegistrationServiceWithLogger(users, hasher, slog.Default())
}

// NewRegistrationServiceWithLogger creates a RegistrationService with an explicit logger.
func NewRegistrationServiceWithLogger(users UserRepository, hasher PasswordHasher, logger *slog.Logger) (*RegistrationService, error) {
	if users == nil {
		return nil, oops.Code("REGISTRATION_INVALID_SERVICE").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("REGISTRATION_INVALID_SERVICE").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("REGISTRATION_INVALID_SERVICE").Errorf("logger is required")
	}
	return &RegistrationService{users: users, hasher: hasher, logger: logger}, nil
}

// Register validates in, stores a new student account and returns its public view.
// Exactly one record is written on success and none on failure.
func (s *RegistrationService) Register(ctx context.Context, in RegistrationInput) (*PublicUser, error) {
	if err := ValidateRegistration(in); err != nil {
		return nil, err
	}
	norm := in.trimmed()

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user := &User{
		ID:              NewID(),
		FirstName:       norm.FirstName,
		LastName:        norm.LastName,
		Email:           norm.Email,
		Username:        norm.Username,
		StudentID:       norm.StudentID,
		Department:      norm.Department,
		PasswordHash:    hash,
		Role:            RoleStudent,
		RegisteredAt:    time.Now().UTC(),
		IsActive:        true,
		NewsletterOptIn: in.NewsletterOptIn,
	}

	if err := s.users.Create(ctx, user); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.logger.InfoContext(ctx, "registration rejected",
				"event", "register_conflict",
				"field", conflict.Field)
			return nil, err
		}
		return nil, oops.With("operation", "create user").Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered",
		"event", "register",
		"user_id", user.ID.String(),
		"username", user.Username)

	pub := user.Public()
	return &pub, nil
}
