// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/umintramurals/campusauth/internal/auth"
)

// Unique constraint names from the users migration.
const (
	constraintUsername  = "users_username_key"
	constraintEmail     = "users_email_lower_key"
	constraintStudentID = "users_student_id_key"
)

var constraintFields = map[string]string{
	constraintUsername:  auth.FieldUsername,
	constraintEmail:     auth.FieldEmail,
	constraintStudentID: auth.FieldStudentID,
}

// userColumns is the shared column list for SELECT queries.
const userColumns = `id, first_name, last_name, email, username, student_id, department,
	password_hash, role, registered_at, last_login_at, is_active, newsletter_opt_in`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// List returns all users in insertion order.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY seq`)
	if err != nil {
		return nil, auth.NewPersistenceError("list users", err)
	}
	defer rows.Close()

	users := []*auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.NewPersistenceError("iterate users", err)
	}
	return users, nil
}

// FindByIdentifier returns the earliest user whose username or email equals identifier.
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1 OR email = $1
		ORDER BY seq
		LIMIT 1
	`, identifier)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// FindByID returns the user with the given ID.
func (r *UserRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ExistsAny reports whether any user holds one of the given unique values.
func (r *UserRepository) ExistsAny(ctx context.Context, username, email, studentID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE ($1 <> '' AND username = $1)
			   OR ($2 <> '' AND lower(email) = lower($2))
			   OR ($3 <> '' AND student_id = $3)
		)
	`, username, email, studentID).Scan(&exists)
	if err != nil {
		return false, auth.NewPersistenceError("check existing users", err)
	}
	return exists, nil
}

// Create inserts user. Existing holders of its unique values are looked up
// first so the reported field follows username, email, studentId order; a
// concurrent insert that slips past the lookup is caught by the constraints.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	if user == nil {
		return oops.Code("USER_CREATE_FAILED").Errorf("user cannot be nil")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return auth.NewPersistenceError("begin create user", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error takes precedence
		}
	}()

	holders, err := conflictHolders(ctx, tx, user)
	if err != nil {
		return err
	}
	if field := auth.FirstConflict(holders, user); field != "" {
		return auth.NewConflictError(field)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO users (
			id, first_name, last_name, email, username, student_id, department,
			password_hash, role, registered_at, last_login_at, is_active, newsletter_opt_in
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		user.ID.String(),
		user.FirstName,
		user.LastName,
		user.Email,
		user.Username,
		user.StudentID,
		user.Department,
		user.PasswordHash,
		string(user.Role),
		user.RegisteredAt,
		user.LastLoginAt,
		user.IsActive,
		user.NewsletterOptIn,
	)
	if err != nil {
		if field := uniqueViolationField(err); field != "" {
			return auth.NewConflictError(field)
		}
		return auth.NewPersistenceError("insert user", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if field := uniqueViolationField(err); field != "" {
			return auth.NewConflictError(field)
		}
		return auth.NewPersistenceError("commit create user", err)
	}
	committed = true
	return nil
}

func conflictHolders(ctx context.Context, tx pgx.Tx, user *auth.User) ([]*auth.User, error) {
	rows, err := tx.Query(ctx, `
		SELECT username, email, student_id
		FROM users
		WHERE username = $1 OR lower(email) = lower($2) OR student_id = $3
		ORDER BY seq
	`, user.Username, user.Email, user.StudentID)
	if err != nil {
		return nil, auth.NewPersistenceError("find conflicting users", err)
	}
	defer rows.Close()

	var holders []*auth.User
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.Username, &u.Email, &u.StudentID); err != nil {
			return nil, auth.NewPersistenceError("scan conflicting user", err)
		}
		holders = append(holders, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.NewPersistenceError("iterate conflicting users", err)
	}
	return holders, nil
}

// uniqueViolationField maps a unique violation on a users constraint to its field.
func uniqueViolationField(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return constraintFields[pgErr.ConstraintName]
	}
	return ""
}

// Update locks the user row, applies mutate and writes the mutable columns back.
func (r *UserRepository) Update(ctx context.Context, id ulid.ULID, mutate func(*auth.User)) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return auth.NewPersistenceError("begin update user", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error takes precedence
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id.String())
	orig, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return err
	}

	u := orig.Clone()
	mutate(u)
	if err := u.PinImmutable(orig); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET
			first_name = $2,
			last_name = $3,
			department = $4,
			password_hash = $5,
			role = $6,
			last_login_at = $7,
			is_active = $8,
			newsletter_opt_in = $9
		WHERE id = $1
	`,
		id.String(),
		u.FirstName,
		u.LastName,
		u.Department,
		u.PasswordHash,
		string(u.Role),
		u.LastLoginAt,
		u.IsActive,
		u.NewsletterOptIn,
	)
	if err != nil {
		return auth.NewPersistenceError("update user", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return auth.NewPersistenceError("commit update user", err)
	}
	committed = true
	return nil
}

// scanUser scans a single row into a User.
// pgx.ErrNoRows is returned unchanged for callers to handle.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		u           auth.User
		idStr       string
		role        string
		lastLoginAt *time.Time
	)
	err := row.Scan(
		&idStr,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&u.Username,
		&u.StudentID,
		&u.Department,
		&u.PasswordHash,
		&role,
		&u.RegisteredAt,
		&lastLoginAt,
		&u.IsActive,
		&u.NewsletterOptIn,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, auth.NewPersistenceError("scan user", err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}
	u.ID = id
	u.Role = auth.Role(role)
	u.LastLoginAt = lastLoginAt
	return &u, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
