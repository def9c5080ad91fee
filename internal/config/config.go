// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

// Package config loads campusauth settings from defaults, an optional YAML
// file and command-line flags, in increasing order of priority.
package config

import (
	"crypto/rand"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/umintramurals/campusauth/internal/auth"
	"github.com/umintramurals/campusauth/internal/xdg"
)

// Store drivers.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Session drivers.
const (
	SessionsMemory   = "memory"
	SessionsRedis    = "redis"
	SessionsPostgres = "postgres"
)

// Config is the resolved campusauth configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Store    StoreConfig    `koanf:"store"`
	Sessions SessionsConfig `koanf:"sessions"`
	Remember RememberConfig `koanf:"remember"`
	CORS     CORSConfig     `koanf:"cors"`
	Cookies  CookiesConfig  `koanf:"cookies"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StoreConfig selects and configures the user repository.
type StoreConfig struct {
	Driver      string `koanf:"driver"`
	Path        string `koanf:"path"`
	DatabaseURL string `koanf:"database_url"`
}

// SessionsConfig selects and configures the session repository.
type SessionsConfig struct {
	Driver        string        `koanf:"driver"`
	TTL           time.Duration `koanf:"ttl"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
}

// RememberConfig configures remember tokens.
type RememberConfig struct {
	TTL    time.Duration `koanf:"ttl"`
	Secret string        `koanf:"secret"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// CookiesConfig controls the session and remember cookies.
type CookiesConfig struct {
	Secure bool `koanf:"secure"`
}

// Defaults returns the built-in configuration as koanf keys.
func Defaults() map[string]any {
	return map[string]any{
		"http.addr":               "127.0.0.1:8080",
		"metrics.addr":            "127.0.0.1:9100",
		"log.format":              "json",
		"log.level":               "info",
		"store.driver":            StoreFile,
		"store.path":              xdg.UsersFile(),
		"store.database_url":      "",
		"sessions.driver":         SessionsMemory,
		"sessions.ttl":            auth.DefaultSessionTTL.String(),
		"sessions.redis_addr":     "127.0.0.1:6379",
		"sessions.redis_password": "",
		"sessions.redis_db":       0,
		"remember.ttl":            auth.DefaultRememberTTL.String(),
		"remember.secret":         "",
		"cors.allowed_origins":    []string{},
		"cookies.secure":          false,
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":       "http.addr",
	"metrics-addr":    "metrics.addr",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"store-driver":    "store.driver",
	"store-path":      "store.path",
	"database-url":    "store.database_url",
	"sessions-driver": "sessions.driver",
	"session-ttl":     "sessions.ttl",
	"redis-addr":      "sessions.redis_addr",
	"remember-ttl":    "remember.ttl",
	"cors-origin":     "cors.allowed_origins",
	"secure-cookies":  "cookies.secure",
}

// RegisterFlags adds the configuration flags to fs. Only flags the user sets
// override the file and the defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", "127.0.0.1:8080", "API listen address")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("store-driver", StoreFile, "user store driver (file or postgres)")
	fs.String("store-path", "", "users file for the file driver (default: XDG_DATA_HOME/campusauth/users.json)")
	fs.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	fs.String("sessions-driver", SessionsMemory, "session store driver (memory, redis or postgres)")
	fs.Duration("session-ttl", auth.DefaultSessionTTL, "session lifetime")
	fs.String("redis-addr", "127.0.0.1:6379", "redis address for the redis session driver")
	fs.Duration("remember-ttl", auth.DefaultRememberTTL, "remember token lifetime")
	fs.StringSlice("cors-origin", nil, "allowed CORS origin (repeatable)")
	fs.Bool("secure-cookies", false, "mark cookies Secure")
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// File is an explicit config file. It must exist when set. When empty,
	// xdg.ConfigFile() is read if present.
	File string
	// Flags are the parsed command-line flags, or nil.
	Flags *pflag.FlagSet
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load resolves the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	k := koanf.New(".")
	for key, val := range Defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	path, required := opts.File, opts.File != ""
	if path == "" {
		path = xdg.ConfigFile()
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}

	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = getenv("DATABASE_URL")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = xdg.UsersFile()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch c.Store.Driver {
	case StoreFile:
		if c.Store.Path == "" {
			return invalid("store.path", "store.path is required for the file driver")
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return invalid("store.database_url", "store.database_url or DATABASE_URL is required for the postgres driver")
		}
	default:
		return invalid("store.driver", "store.driver must be %q or %q, got %q", StoreFile, StorePostgres, c.Store.Driver)
	}
	switch c.Sessions.Driver {
	case SessionsMemory:
	case SessionsRedis:
		if c.Sessions.RedisAddr == "" {
			return invalid("sessions.redis_addr", "sessions.redis_addr is required for the redis driver")
		}
	case SessionsPostgres:
		if c.Store.Driver != StorePostgres {
			return invalid("sessions.driver", "the postgres session driver requires the postgres store driver")
		}
	default:
		return invalid("sessions.driver", "sessions.driver must be memory, redis or postgres, got %q", c.Sessions.Driver)
	}
	if c.Sessions.TTL <= 0 {
		return invalid("sessions.ttl", "sessions.ttl must be positive")
	}
	if c.Remember.TTL <= 0 {
		return invalid("remember.ttl", "remember.ttl must be positive")
	}
	if c.Remember.Secret != "" && len(c.Remember.Secret) < auth.MinRememberSecretSize {
		return invalid("remember.secret", "remember.secret must be at least %d bytes", auth.MinRememberSecretSize)
	}
	for _, origin := range c.CORS.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return invalid("cors.allowed_origins", "cors.allowed_origins must not contain empty entries")
		}
	}
	return nil
}

// RememberSecret returns the configured remember-token signing key. With no
// configured secret it returns a random one and generated is true; tokens
// signed with it stop validating when the process restarts.
func (c *Config) RememberSecret() (secret []byte, generated bool, err error) {
	if c.Remember.Secret != "" {
		return []byte(c.Remember.Secret), false, nil
	}
	secret = make([]byte, auth.MinRememberSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, false, oops.Code("CONFIG_SECRET_FAILED").Wrap(err)
	}
	return secret, true, nil
}
