// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package config loads authd settings.
//
// Sources are applied in order, each overriding the previous one: built-in
// defaults, the YAML file given by --config, the unprefixed variables of
// existing deployments (JWT_SECRET, DATABASE_URL, PORT, ...), AUTHD_*
// variables, and finally command-line flags that were set explicitly.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/authd-dev/authd/internal/auth"
)

// EnvPrefix prefixes every authd environment variable.
const EnvPrefix = "AUTHD_"

// Config is the complete service configuration.
type Config struct {
	Service  Service  `koanf:"service" yaml:"service"`
	HTTP     HTTP     `koanf:"http" yaml:"http"`
	Metrics  Metrics  `koanf:"metrics" yaml:"metrics"`
	Log      Log      `koanf:"log" yaml:"log"`
	Database Database `koanf:"database" yaml:"database"`
	Redis    Redis    `koanf:"redis" yaml:"redis"`
	NATS     NATS     `koanf:"nats" yaml:"nats"`
	JWT      JWT      `koanf:"jwt" yaml:"jwt"`
	Hasher   Hasher   `koanf:"hasher" yaml:"hasher"`
	Sentry   Sentry   `koanf:"sentry" yaml:"sentry"`
	Shutdown Shutdown `koanf:"shutdown" yaml:"shutdown"`
}

type Service struct {
	Name string `koanf:"name" yaml:"name"`
}

type HTTP struct {
	Addr           string        `koanf:"addr" yaml:"addr"`
	ReadTimeout    time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins" yaml:"allowed_origins"`
}

type Metrics struct {
	// Addr of the metrics and probe listener. Empty disables it.
	Addr string `koanf:"addr" yaml:"addr"`
}

type Log struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

type Database struct {
	URL      string `koanf:"url" yaml:"url"`
	MaxConns int32  `koanf:"max_conns" yaml:"max_conns"`
	// AutoMigrate applies pending migrations when the server starts.
	AutoMigrate bool `koanf:"auto_migrate" yaml:"auto_migrate"`
}

type Redis struct {
	Addr     string `koanf:"addr" yaml:"addr"`
	Password string `koanf:"password" yaml:"password"`
	DB       int    `koanf:"db" yaml:"db"`
}

type NATS struct {
	URL     string `koanf:"url" yaml:"url"`
	Subject string `koanf:"subject" yaml:"subject"`
	// Stream is created for Subject when missing. Empty skips the check.
	Stream string `koanf:"stream" yaml:"stream"`
}

type JWT struct {
	Secret    string `koanf:"secret" yaml:"secret"`
	ExpiresIn string `koanf:"expires_in" yaml:"expires_in"`
	Issuer    string `koanf:"issuer" yaml:"issuer"`
}

type Hasher struct {
	Algorithm string `koanf:"algorithm" yaml:"algorithm"`
	Cost      int    `koanf:"cost" yaml:"cost"`
}

type Sentry struct {
	DSN         string  `koanf:"dsn" yaml:"dsn"`
	Environment string  `koanf:"environment" yaml:"environment"`
	SampleRate  float64 `koanf:"sample_rate" yaml:"sample_rate"`
}

type Shutdown struct {
	StepTimeout time.Duration `koanf:"step_timeout" yaml:"step_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: Service{Name: "auth-service"},
		HTTP: HTTP{
			Addr:           ":3000",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Metrics:  Metrics{Addr: "127.0.0.1:9100"},
		Log:      Log{Format: "json", Level: "info"},
		Database: Database{MaxConns: 10},
		Redis:    Redis{Addr: "localhost:6379"},
		NATS: NATS{
			URL:     "nats://localhost:4222",
			Subject: "auth.user.registered",
			Stream:  "AUTH",
		},
		JWT:      JWT{ExpiresIn: auth.DefaultTokenLifetime},
		Hasher:   Hasher{Algorithm: auth.AlgorithmBcrypt, Cost: auth.DefaultBcryptCost},
		Sentry:   Sentry{Environment: "development", SampleRate: 1.0},
		Shutdown: Shutdown{StepTimeout: 5 * time.Second},
	}
}

// legacyEnv maps the unprefixed variables of existing deployments.
var legacyEnv = map[string]string{
	"SERVICE_NAME":       "service.name",
	"DATABASE_URL":       "database.url",
	"JWT_SECRET":         "jwt.secret",
	"JWT_EXPIRES_IN":     "jwt.expires_in",
	"SENTRY_DSN":         "sentry.dsn",
	"SENTRY_ENVIRONMENT": "sentry.environment",
	"SENTRY_SAMPLE_RATE": "sentry.sample_rate",
}

func legacyKey(name, value string) (string, any) {
	if name == "PORT" {
		return "http.addr", ":" + value
	}
	return legacyEnv[name], value
}

// envKey maps AUTHD_JWT_EXPIRES_IN to jwt.expires_in: the first underscore
// separates the section from the field name.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// flagKey maps a changed flag to its config key. Flags that were not set on
// the command line are skipped so their defaults do not mask other sources.
func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

var flagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"database-url": "database.url",
	"auto-migrate": "database.auto_migrate",
	"redis-addr":   "redis.addr",
	"nats-url":     "nats.url",
}

// RegisterFlags defines the command-line overrides Load understands.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "HTTP listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics and probe listen address (empty disables)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on startup")
	fs.String("redis-addr", d.Redis.Addr, "Redis address")
	fs.String("nats-url", d.NATS.URL, "NATS server URL")
}

// Load builds the configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(auth.CodeConfigInvalid).With("path", path).Wrap(err)
		}
	}
	if err := k.Load(env.ProviderWithValue("", ".", legacyKey), nil); err != nil {
		return nil, oops.Code(auth.CodeConfigInvalid).With("source", "environment").Wrap(err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code(auth.CodeConfigInvalid).With("source", "environment").Wrap(err)
	}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return nil, oops.Code(auth.CodeConfigInvalid).With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(auth.CodeConfigInvalid).Wrap(err)
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code(auth.CodeConfigInvalid).With("key", key).Errorf(format, args...)
	}

	switch {
	case c.Service.Name == "":
		return invalid("service.name", "service name is required")
	case c.HTTP.Addr == "":
		return invalid("http.addr", "http address is required")
	case c.Database.URL == "":
		return invalid("database.url", "database url is required (set DATABASE_URL or AUTHD_DATABASE_URL)")
	case c.Redis.Addr == "":
		return invalid("redis.addr", "redis address is required")
	case c.NATS.URL == "":
		return invalid("nats.url", "nats url is required")
	case c.NATS.Subject == "":
		return invalid("nats.subject", "nats subject is required")
	case len(c.JWT.Secret) < auth.MinSecretLength:
		return invalid("jwt.secret", "jwt secret must be at least %d bytes", auth.MinSecretLength)
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "log format must be json or text, got %q", c.Log.Format)
	case c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1:
		return invalid("sentry.sample_rate", "sample rate must be within [0, 1], got %v", c.Sentry.SampleRate)
	case c.Shutdown.StepTimeout <= 0:
		return invalid("shutdown.step_timeout", "shutdown step timeout must be positive")
	}
	if _, err := auth.ParseLifetime(c.JWT.ExpiresIn); err != nil {
		return oops.With("key", "jwt.expires_in").Wrap(err)
	}
	if _, err := auth.NewHasher(c.Hasher.Algorithm, c.Hasher.Cost); err != nil {
		return oops.With("key", "hasher").Wrap(err)
	}
	return nil
}

// TokenLifetime returns the parsed jwt.expires_in.
func (c *Config) TokenLifetime() (time.Duration, error) {
	return auth.ParseLifetime(c.JWT.ExpiresIn)
}

const redacted = "[REDACTED]"

// Redacted returns a copy safe to print: secrets are masked and the database
// password is hidden.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	out.JWT.Secret = mask(c.JWT.Secret)
	out.Redis.Password = mask(c.Redis.Password)
	out.Sentry.DSN = mask(c.Sentry.DSN)
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		out.Database.URL = u.Redacted()
	}
	return out
}
