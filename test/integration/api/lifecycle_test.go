// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

//go:build integration

package api_test

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/auth/filestore"
	"github.com/umintramurals/campusauth/internal/auth/memory"
	"github.com/umintramurals/campusauth/internal/auth/postgres"
	"github.com/umintramurals/campusauth/internal/httpapi"
	"github.com/umintramurals/campusauth/internal/store"
)

// accountLifecycle is run once per storage backend.
func accountLifecycle(newEnv func() *apiEnv) {
	var env *apiEnv

	BeforeEach(func() {
		env = newEnv()
		DeferCleanup(env.Close)
	})

	It("registers, logs in, lists and logs out alice", func() {
		By("registering")
		status, body := env.do(http.MethodPost, "/api/register", registration("alice", "a@x.edu", "123456"))
		Expect(status).To(Equal(http.StatusCreated))
		Expect(body["success"]).To(BeTrue())
		Expect(body["message"]).To(Equal("Registration successful"))
		user := body["user"].(map[string]any)
		Expect(user["username"]).To(Equal("alice"))
		Expect(user["role"]).To(Equal("student"))
		Expect(user["isActive"]).To(BeTrue())
		Expect(user).NotTo(HaveKey("passwordHash"))
		Expect(user).NotTo(HaveKey("lastLoginAt"))

		By("rejecting a second account with the same username")
		status, body = env.do(http.MethodPost, "/api/register", registration("alice", "other@x.edu", "654321"))
		Expect(status).To(Equal(http.StatusConflict))
		Expect(body["errors"]).To(HaveKeyWithValue("username", "Username already exists"))

		By("rejecting an email that differs only in case")
		status, body = env.do(http.MethodPost, "/api/register", registration("alicia", "A@X.EDU", "654321"))
		Expect(status).To(Equal(http.StatusConflict))
		Expect(body["errors"]).To(HaveKeyWithValue("email", "Email already registered"))

		By("failing login with a wrong password")
		status, body = env.do(http.MethodPost, "/api/login", map[string]any{"username": "alice", "password": "nope"})
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body["message"]).To(Equal(auth.InvalidCredentialsMessage))

		By("failing login for an unknown user with the same message")
		status, body = env.do(http.MethodPost, "/api/login", map[string]any{"username": "nobody", "password": "Secret1!"})
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body["message"]).To(Equal(auth.InvalidCredentialsMessage))

		By("logging in with the email address")
		status, body = env.do(http.MethodPost, "/api/login", map[string]any{"username": "a@x.edu", "password": "Secret1!"})
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal("Login successful"))
		Expect(body["session"]).To(HaveKey("token"))
		Expect(body).NotTo(HaveKey("rememberToken"))

		By("recording the login time")
		status, body = env.do(http.MethodGet, "/api/users", nil)
		Expect(status).To(Equal(http.StatusOK))
		users := body["users"].([]any)
		Expect(users).To(HaveLen(1))
		listed := users[0].(map[string]any)
		Expect(listed).To(HaveKey("lastLoginAt"))
		Expect(listed).NotTo(HaveKey("passwordHash"))

		By("resolving the session cookie")
		status, body = env.do(http.MethodGet, "/api/session", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["user"]).To(HaveKeyWithValue("username", "alice"))

		By("logging out")
		status, body = env.do(http.MethodPost, "/api/logout", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal("Logged out"))

		status, body = env.do(http.MethodGet, "/api/session", nil)
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body["message"]).To(Equal("Not authenticated"))
	})

	It("resumes a session from the remember cookie", func() {
		status, _ := env.do(http.MethodPost, "/api/register", registration("alice", "a@x.edu", "123456"))
		Expect(status).To(Equal(http.StatusCreated))

		status, body := env.do(http.MethodPost, "/api/login", map[string]any{
			"username": "alice", "password": "Secret1!", "rememberMe": true,
		})
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["rememberToken"]).To(HaveKey("token"))

		env.forgetCookie(httpapi.SessionCookie)

		status, body = env.do(http.MethodGet, "/api/session", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal("Session resumed"))
		Expect(body["session"]).To(HaveKey("token"))

		status, _ = env.do(http.MethodGet, "/api/session", nil)
		Expect(status).To(Equal(http.StatusOK))
	})

	It("reports every invalid field in the order the form shows them", func() {
		status, body := env.do(http.MethodPost, "/api/register", map[string]any{
			"firstName": "", "lastName": "", "email": "not-an-email", "username": "al",
			"studentId": "12ab", "department": "", "password": "123",
		})
		Expect(status).To(Equal(http.StatusBadRequest))
		errs := body["errors"].(map[string]any)
		Expect(errs).To(HaveKey("firstName"))
		Expect(errs).To(HaveKey("email"))
		Expect(errs).To(HaveKey("username"))
		Expect(errs).To(HaveKey("studentId"))
		Expect(errs).To(HaveKey("password"))

		status, body = env.do(http.MethodGet, "/api/users", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["users"]).To(BeEmpty())
	})
}

var _ = Describe("file store", func() {
	accountLifecycle(func() *apiEnv {
		users, err := filestore.New(filepath.Join(GinkgoT().TempDir(), "users.json"))
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Init(context.Background())).To(Succeed())
		return newAPIEnv(users, memory.NewSessionStore())
	})
})

var _ = Describe("postgres store", Ordered, func() {
	var (
		container *tcpostgres.PostgresContainer
		pool      *pgxpool.Pool
	)

	BeforeAll(func(ctx SpecContext) {
		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("campusauth_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func(ctx SpecContext) {
			Expect(container.Terminate(ctx)).To(Succeed())
		})

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
		Expect(store.MigrateUp(connStr)).To(Succeed())

		pool, err = store.OpenPool(ctx, connStr, store.PoolConfig{})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)
	}, NodeTimeout(2*time.Minute))

	BeforeEach(func(ctx SpecContext) {
		_, err := pool.Exec(ctx, "TRUNCATE sessions, users")
		Expect(err).NotTo(HaveOccurred())
	})

	accountLifecycle(func() *apiEnv {
		return newAPIEnv(postgres.NewUserRepository(pool), postgres.NewSessionRepository(pool))
	})
})
