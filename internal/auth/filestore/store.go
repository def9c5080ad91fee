// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

// Package filestore implements auth.UserRepository on a single JSON document.
//
// The document is a pretty-printed array of users in insertion order. Every
// operation re-reads it, so the file is the only state. Writers hold an
// exclusive lock across read, check, mutate and write; the write goes to a
// temporary file in the same directory that is then renamed over the
// document, so readers never see a partially written file.
//
// The in-process lock is paired with an advisory lock on a sibling
// ".<name>.lock" file: exclusive for writers, shared for readers. Every Store
// on the same path, in this process or another (a running server and the
// import command, say), is serialized by it.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/umintramurals/campusauth/internal/auth"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	lockRetryDelay = 5 * time.Millisecond
)

// Store is a JSON file backed auth.UserRepository.
type Store struct {
	path string
	mu   sync.RWMutex
}

// New creates a Store for the document at path. The file is created on first use.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, oops.Code("STORE_INVALID_PATH").Errorf("user store path cannot be empty")
	}
	return &Store{path: filepath.Clean(path)}, nil
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// LockPath returns the advisory lock file shared by every Store on Path.
func (s *Store) LockPath() string {
	return filepath.Join(filepath.Dir(s.path), "."+filepath.Base(s.path)+".lock")
}

// withFileLock runs fn while holding the advisory lock on LockPath. A fresh
// handle is opened per call, so concurrent readers in one process each hold
// their own shared lock.
func (s *Store) withFileLock(ctx context.Context, exclusive bool, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return auth.NewPersistenceError("create store directory", err)
	}

	fl := flock.New(s.LockPath())
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err == nil && !locked {
		err = ctx.Err()
	}
	if err != nil {
		_ = fl.Close() //nolint:errcheck // lock error takes precedence
		return auth.NewPersistenceError("lock users file", err)
	}
	defer func() {
		_ = fl.Unlock() //nolint:errcheck // closing the handle releases the lock as well
		_ = fl.Close()  //nolint:errcheck // see above
	}()

	return fn()
}

// read loads the document. missing is true when the file does not exist.
// Callers must hold s.mu and the file lock.
func (s *Store) read() (users []*auth.User, missing bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*auth.User{}, true, nil
		}
		return nil, false, auth.NewPersistenceError("read users", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []*auth.User{}, false, nil
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, false, auth.NewPersistenceError("decode users", err)
	}
	if users == nil {
		users = []*auth.User{}
	}
	return users, false, nil
}

// write atomically replaces the document with users. Callers must hold s.mu
// and the file lock exclusively.
func (s *Store) write(users []*auth.User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return auth.NewPersistenceError("encode users", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return auth.NewPersistenceError("create store directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return auth.NewPersistenceError("create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName) //nolint:errcheck // cleanup after an earlier failure
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close() //nolint:errcheck // write error takes precedence
		return auth.NewPersistenceError("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck // sync error takes precedence
		return auth.NewPersistenceError("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return auth.NewPersistenceError("close temp file", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return auth.NewPersistenceError("chmod temp file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return auth.NewPersistenceError("replace users file", err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry for the rename where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // dir is derived from the configured store path
	if err != nil {
		return
	}
	_ = d.Sync()  //nolint:errcheck // not supported on every platform
	_ = d.Close() //nolint:errcheck // read-only handle
}

// Init creates an empty document if none exists.
func (s *Store) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withFileLock(ctx, true, func() error {
		_, missing, err := s.read()
		if err != nil || !missing {
			return err
		}
		return s.write([]*auth.User{})
	})
}

// List returns all users in insertion order. A missing document is created empty.
func (s *Store) List(ctx context.Context) ([]*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		users   []*auth.User
		missing bool
	)
	s.mu.RLock()
	err := s.withFileLock(ctx, false, func() (err error) {
		users, missing, err = s.read()
		return err
	})
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if missing {
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// FindByIdentifier returns the user whose username or email equals identifier.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	return s.find(ctx, func(u *auth.User) bool { return u.MatchesIdentifier(identifier) })
}

// FindByID returns the user with the given ID.
func (s *Store) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return s.find(ctx, func(u *auth.User) bool { return u.ID == id })
}

func (s *Store) find(ctx context.Context, pred func(*auth.User) bool) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if pred(u) {
			return u, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// ExistsAny reports whether any user holds one of the given unique values.
func (s *Store) ExistsAny(ctx context.Context, username, email, studentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	users, err := s.snapshot(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.MatchesAny(username, email, studentID) {
			return true, nil
		}
	}
	return false, nil
}

// Create appends user after checking uniqueness, as one step under the write lock.
func (s *Store) Create(ctx context.Context, user *auth.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateNew(user); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(ctx, true, func() error {
		users, _, err := s.read()
		if err != nil {
			return err
		}
		if field := auth.FirstConflict(users, user); field != "" {
			return auth.NewConflictError(field)
		}
		for _, u := range users {
			if u.ID == user.ID {
				return oops.Code("USER_CREATE_FAILED").
					With("user_id", user.ID.String()).
					Errorf("user ID already exists")
			}
		}
		return s.write(append(users, user.Clone()))
	})
}

// Update applies mutate to the user with the given ID and persists the result.
func (s *Store) Update(ctx context.Context, id ulid.ULID, mutate func(*auth.User)) error {
	return s.UpdateWhere(ctx, func(u *auth.User) bool { return u.ID == id }, mutate)
}

// UpdateWhere applies mutate to the first user matching pred and persists the
// result. ID, RegisteredAt and the unique fields are restored after mutate runs.
func (s *Store) UpdateWhere(ctx context.Context, pred func(*auth.User) bool, mutate func(*auth.User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(ctx, true, func() error {
		users, _, err := s.read()
		if err != nil {
			return err
		}
		for _, u := range users {
			if !pred(u) {
				continue
			}
			orig := u.Clone()
			mutate(u)
			if err := u.PinImmutable(orig); err != nil {
				return err
			}
			return s.write(users)
		}
		return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	})
}

// snapshot reads the document under both shared locks.
func (s *Store) snapshot(ctx context.Context) ([]*auth.User, error) {
	var users []*auth.User
	s.mu.RLock()
	defer s.mu.RUnlock()
	err := s.withFileLock(ctx, false, func() (err error) {
		users, _, err = s.read()
		return err
	})
	return users, err
}

func validateNew(user *auth.User) error {
	switch {
	case user == nil:
		return oops.Code("USER_CREATE_FAILED").Errorf("user cannot be nil")
	case user.ID.Compare(ulid.ULID{}) == 0:
		return oops.Code("USER_CREATE_FAILED").Errorf("user ID cannot be zero")
	case user.PasswordHash == "":
		return oops.Code("USER_CREATE_FAILED").
			With("user_id", user.ID.String()).
			Errorf("password hash cannot be empty")
	}
	return nil
}
