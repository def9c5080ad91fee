// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

//go:build integration

package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"

	. "github.com/onsi/gomega" //nolint:revive // gomega convention

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/httpapi"
)

var rememberSecret = bytes.Repeat([]byte("s"), auth.MinRememberSecretSize)

// apiEnv is one running API backed by the given repositories.
type apiEnv struct {
	server *httptest.Server
	client *http.Client
}

func newAPIEnv(users auth.UserRepository, sessions auth.SessionRepository) *apiEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher := auth.NewArgon2idHasher()

	issuer, err := auth.NewTokenIssuer(sessions, auth.IssuerConfig{RememberSecret: rememberSecret})
	Expect(err).NotTo(HaveOccurred())
	regService, err := auth.NewRegistrationServiceWithLogger(users, hasher, logger)
	Expect(err).NotTo(HaveOccurred())
	authService, err := auth.NewAuthServiceWithLogger(users, issuer, hasher, logger)
	Expect(err).NotTo(HaveOccurred())

	api, err := httpapi.New(regService, authService, httpapi.Options{Logger: logger})
	Expect(err).NotTo(HaveOccurred())

	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())

	return &apiEnv{
		server: httptest.NewServer(api.Handler()),
		client: &http.Client{Jar: jar},
	}
}

func (e *apiEnv) Close() {
	e.server.Close()
}

// forgetCookie drops one cookie from the client jar.
func (e *apiEnv) forgetCookie(name string) {
	req, err := http.NewRequest(http.MethodGet, e.server.URL, nil)
	Expect(err).NotTo(HaveOccurred())
	var kept []*http.Cookie
	for _, c := range e.client.Jar.Cookies(req.URL) {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	for _, c := range kept {
		c.Path = "/"
	}
	jar.SetCookies(req.URL, kept)
	e.client.Jar = jar
}

// do sends body as JSON and decodes the JSON reply into a generic map.
func (e *apiEnv) do(method, path string, body any) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/json"))
	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

func registration(username, email, studentID string) map[string]any {
	return map[string]any{
		"firstName":  "Alice",
		"lastName":   "Liddell",
		"email":      email,
		"username":   username,
		"studentId":  studentID,
		"department": "engineering",
		"password":   "Secret1!",
	}
}
