// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/config"
	"github.com/umintramurals/campusauth/pkg/errutil"
)

// isolate points the XDG directories at a fresh temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func noEnv(string) string { return "" }

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "campusauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := config.Load(config.LoadOptions{Flags: flags(t), Getenv: noEnv})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, config.StoreFile, cfg.Store.Driver)
	assert.Equal(t, filepath.Join(dir, "data", "campusauth", "users.json"), cfg.Store.Path)
	assert.Equal(t, config.SessionsMemory, cfg.Sessions.Driver)
	assert.Equal(t, auth.DefaultSessionTTL, cfg.Sessions.TTL)
	assert.Equal(t, auth.DefaultRememberTTL, cfg.Remember.TTL)
	assert.Empty(t, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.Cookies.Secure)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, `
http:
  addr: ":9000"
log:
  format: text
store:
  driver: postgres
  database_url: postgres://file/db
sessions:
  driver: redis
  ttl: 2h
  redis_addr: redis:6379
cors:
  allowed_origins:
    - https://intramurals.example.edu
cookies:
  secure: true
`)

	cfg, err := config.Load(config.LoadOptions{File: path, Getenv: noEnv})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, config.StorePostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://file/db", cfg.Store.DatabaseURL)
	assert.Equal(t, config.SessionsRedis, cfg.Sessions.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, "redis:6379", cfg.Sessions.RedisAddr)
	assert.Equal(t, []string{"https://intramurals.example.edu"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Cookies.Secure)
}

func TestLoad_XDGConfigFileIsReadWhenPresent(t *testing.T) {
	dir := isolate(t)
	cfgDir := filepath.Join(dir, "config", "campusauth")
	require.NoError(t, os.MkdirAll(cfgDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("http:\n  addr: \":7000\"\n"), 0o600))

	cfg, err := config.Load(config.LoadOptions{Getenv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "http:\n  addr: \":9000\"\nlog:\n  format: text\n")

	cfg, err := config.Load(config.LoadOptions{
		File:   path,
		Flags:  flags(t, "--http-addr", ":9999", "--session-ttl", "90m", "--cors-origin", "https://a.edu", "--cors-origin", "https://b.edu"),
		Getenv: noEnv,
	})
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "text", cfg.Log.Format, "unset flag must not override the file")
	assert.Equal(t, 90*time.Minute, cfg.Sessions.TTL)
	assert.Equal(t, []string{"https://a.edu", "https://b.edu"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_DatabaseURLFromEnvironment(t *testing.T) {
	isolate(t)
	env := func(key string) string {
		if key == "DATABASE_URL" {
			return "postgres://env/db"
		}
		return ""
	}

	cfg, err := config.Load(config.LoadOptions{Flags: flags(t, "--store-driver", "postgres"), Getenv: env})
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Store.DatabaseURL)

	cfg, err = config.Load(config.LoadOptions{
		Flags:  flags(t, "--store-driver", "postgres", "--database-url", "postgres://flag/db"),
		Getenv: env,
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/db", cfg.Store.DatabaseURL)
}

func TestLoad_Errors(t *testing.T) {
	dir := isolate(t)

	t.Run("explicit file must exist", func(t *testing.T) {
		_, err := config.Load(config.LoadOptions{File: filepath.Join(dir, "missing.yaml"), Getenv: noEnv})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_FILE_INVALID")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, dir, "http: [unterminated\n")
		_, err := config.Load(config.LoadOptions{File: path, Getenv: noEnv})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_FILE_INVALID")
	})

	t.Run("invalid value fails validation", func(t *testing.T) {
		_, err := config.Load(config.LoadOptions{Flags: flags(t, "--log-format", "xml"), Getenv: noEnv})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		errutil.AssertErrorContext(t, err, "key", "log.format")
	})
}

func validConfig() config.Config {
	return config.Config{
		HTTP:     config.HTTPConfig{Addr: ":8080"},
		Log:      config.LogConfig{Format: "json"},
		Store:    config.StoreConfig{Driver: config.StoreFile, Path: "/tmp/users.json"},
		Sessions: config.SessionsConfig{Driver: config.SessionsMemory, TTL: time.Hour},
		Remember: config.RememberConfig{TTL: time.Hour},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"empty http addr", func(c *config.Config) { c.HTTP.Addr = "" }, "http.addr"},
		{"unknown store driver", func(c *config.Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"file driver without path", func(c *config.Config) { c.Store.Path = "" }, "store.path"},
		{"postgres without url", func(c *config.Config) { c.Store.Driver = config.StorePostgres }, "store.database_url"},
		{"unknown session driver", func(c *config.Config) { c.Sessions.Driver = "etcd" }, "sessions.driver"},
		{"redis without addr", func(c *config.Config) { c.Sessions.Driver = config.SessionsRedis }, "sessions.redis_addr"},
		{"postgres sessions with file store", func(c *config.Config) { c.Sessions.Driver = config.SessionsPostgres }, "sessions.driver"},
		{"zero session ttl", func(c *config.Config) { c.Sessions.TTL = 0 }, "sessions.ttl"},
		{"negative remember ttl", func(c *config.Config) { c.Remember.TTL = -time.Second }, "remember.ttl"},
		{"short secret", func(c *config.Config) { c.Remember.Secret = "short" }, "remember.secret"},
		{"blank origin", func(c *config.Config) { c.CORS.AllowedOrigins = []string{" "} }, "cors.allowed_origins"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.key == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}

func TestConfig_RememberSecret(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		cfg := validConfig()
		cfg.Remember.Secret = "0123456789abcdef0123456789abcdef"
		secret, generated, err := cfg.RememberSecret()
		require.NoError(t, err)
		assert.False(t, generated)
		assert.Equal(t, []byte(cfg.Remember.Secret), secret)
	})

	t.Run("generated", func(t *testing.T) {
		cfg := validConfig()
		first, generated, err := cfg.RememberSecret()
		require.NoError(t, err)
		assert.True(t, generated)
		assert.Len(t, first, auth.MinRememberSecretSize)

		second, _, err := cfg.RememberSecret()
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})
}
