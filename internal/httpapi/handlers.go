// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package httpapi

import (
	"errors"
	"net/http"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/observability"
	"github.com/umintramurals/campusauth/pkg/errutil"
)

type userResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	User    auth.PublicUser `json:"user"`
}

type usersResponse struct {
	Success bool              `json:"success"`
	Users   []auth.PublicUser `json:"users"`
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type sessionResponse struct {
	Success       bool                `json:"success"`
	Message       string              `json:"message,omitempty"`
	User          auth.PublicUser     `json:"user"`
	Session       *auth.SessionHandle `json:"session,omitempty"`
	RememberToken *auth.RememberToken `json:"rememberToken,omitempty"`
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	errutil.LogErrorContext(r.Context(), s.logger, msg, err)
	writeMessage(w, http.StatusInternalServerError, msgInternal)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegistrationInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.metrics.RecordAuthEvent("register", observability.OutcomeInvalid)
		writeMessage(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	user, err := s.registration.Register(r.Context(), in)
	if err != nil {
		var verr *auth.ValidationError
		var cerr *auth.ConflictError
		switch {
		case errors.As(err, &verr):
			s.metrics.RecordAuthEvent("register", observability.OutcomeInvalid)
			writeJSON(w, http.StatusBadRequest, errorsResponse{Errors: fieldErrors(verr.Errors)})
		case errors.As(err, &cerr):
			s.metrics.RecordAuthEvent("register", observability.OutcomeConflict)
			writeJSON(w, http.StatusConflict, errorsResponse{
				Errors: fieldErrors{{Field: cerr.Field, Message: cerr.Message()}},
			})
		default:
			s.metrics.RecordAuthEvent("register", observability.OutcomeError)
			s.internalError(w, r, "registration failed", err)
		}
		return
	}

	s.metrics.RecordAuthEvent("register", observability.OutcomeSuccess)
	writeJSON(w, http.StatusCreated, userResponse{
		Success: true,
		Message: "Registration successful",
		User:    *user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	result, err := s.auth.Login(r.Context(), auth.LoginInput{
		Identifier: req.Username,
		Password:   req.Password,
		Remember:   req.RememberMe,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.metrics.RecordAuthEvent("login", observability.OutcomeInvalid)
			writeMessage(w, http.StatusUnauthorized, auth.InvalidCredentialsMessage)
		case errors.Is(err, auth.ErrRateLimited):
			s.metrics.RecordAuthEvent("login", observability.OutcomeRateLimited)
			writeMessage(w, http.StatusTooManyRequests, msgRateLimited)
		default:
			s.metrics.RecordAuthEvent("login", observability.OutcomeError)
			s.internalError(w, r, "login failed", err)
		}
		return
	}

	s.metrics.RecordAuthEvent("login", observability.OutcomeSuccess)
	s.writeSession(w, http.StatusOK, "Login successful", result)
}

// writeSession sets the cookies for a fresh login result and writes it.
func (s *Server) writeSession(w http.ResponseWriter, status int, msg string, result *auth.LoginResult) {
	s.setCookie(w, SessionCookie, result.Session.Token, result.Session.ExpiresAt)
	if result.Remember != nil {
		s.setCookie(w, RememberCookie, result.Remember.Token, result.Remember.ExpiresAt)
	}
	session := result.Session
	writeJSON(w, status, sessionResponse{
		Success:       true,
		Message:       msg,
		User:          result.User,
		Session:       &session,
		RememberToken: result.Remember,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.ListUsers(r.Context())
	if err != nil {
		s.internalError(w, r, "list users failed", err)
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Success: true, Users: users})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		user, err := s.auth.CurrentUser(r.Context(), token)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, sessionResponse{Success: true, User: *user})
			return
		case errors.Is(err, auth.ErrSessionInvalid), errors.Is(err, auth.ErrSessionExpired):
			s.clearCookie(w, SessionCookie)
		default:
			s.internalError(w, r, "session lookup failed", err)
			return
		}
	}

	remember := cookieValue(r, RememberCookie)
	if remember == "" {
		writeMessage(w, http.StatusUnauthorized, msgNotAuthenticated)
		return
	}

	result, err := s.auth.ResumeFromRememberToken(r.Context(), remember)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.metrics.RecordAuthEvent("resume", observability.OutcomeInvalid)
			s.clearCookie(w, RememberCookie)
			writeMessage(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		s.metrics.RecordAuthEvent("resume", observability.OutcomeError)
		s.internalError(w, r, "session resume failed", err)
		return
	}

	s.metrics.RecordAuthEvent("resume", observability.OutcomeSuccess)
	s.writeSession(w, http.StatusOK, "Session resumed", result)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), sessionToken(r)); err != nil {
		s.internalError(w, r, "logout failed", err)
		return
	}
	s.clearCookie(w, SessionCookie)
	s.clearCookie(w, RememberCookie)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out"})
}
