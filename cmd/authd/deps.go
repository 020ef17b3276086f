// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/auth/postgres"
	authredis "github.com/authd-dev/authd/internal/auth/redis"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/events"
	"github.com/authd-dev/authd/internal/events/natsbus"
	"github.com/authd-dev/authd/internal/monitor"
	"github.com/authd-dev/authd/internal/observability"
	"github.com/authd-dev/authd/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConfigLoader builds the configuration.
	// Default: config.Load
	ConfigLoader func(path string, flags *pflag.FlagSet) (*config.Config, error)

	// MonitorFactory creates the error monitor.
	// Default: monitor.New
	MonitorFactory func(opts monitor.Options) (*monitor.Monitor, error)

	// ObservabilityServerFactory creates the metrics and probe server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// PublisherFactory connects the event publisher.
	// Default: natsbus.Connect
	PublisherFactory func(cfg config.NATS, logger *slog.Logger) (EventPublisher, error)

	// SessionStoreFactory connects the session registry.
	// Default: redis.Dial
	SessionStoreFactory func(ctx context.Context, cfg config.Redis) (SessionStore, error)

	// MigratorFactory creates the migrator used by auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// DatabaseFactory opens the connection pool.
	// Default: store.Open
	DatabaseFactory func(ctx context.Context, cfg config.Database) (Database, error)

	// ListenerFactory creates the HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// LogOutput receives the process logs.
	// Default: os.Stderr
	LogOutput io.Writer
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// EventPublisher wraps the methods used from natsbus.Publisher.
type EventPublisher interface {
	events.Publisher
	Close()
}

// SessionStore wraps the methods used from redis.SessionRegistry.
type SessionStore interface {
	auth.SessionRegistry
	Ping(ctx context.Context) error
	Close() error
}

// Database wraps the methods used from *pgxpool.Pool.
type Database interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods used from store.Migrator on startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

func (deps *ServeDeps) setDefaults() {
	if deps.ConfigLoader == nil {
		deps.ConfigLoader = config.Load
	}
	if deps.MonitorFactory == nil {
		deps.MonitorFactory = monitor.New
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if deps.PublisherFactory == nil {
		deps.PublisherFactory = connectPublisher
	}
	if deps.SessionStoreFactory == nil {
		deps.SessionStoreFactory = func(ctx context.Context, cfg config.Redis) (SessionStore, error) {
			return authredis.Dial(ctx, authredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if deps.DatabaseFactory == nil {
		deps.DatabaseFactory = func(ctx context.Context, cfg config.Database) (Database, error) {
			return store.Open(ctx, cfg.URL, store.PoolOptions{MaxConns: cfg.MaxConns})
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
}

// connectPublisher connects to NATS without waiting for the server. Events
// published while it is unreachable fail and are retried by the dispatcher.
func connectPublisher(cfg config.NATS, logger *slog.Logger) (EventPublisher, error) {
	pub, err := natsbus.Connect(cfg.URL, cfg.Subject,
		nats.Name("authd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Stream != "" {
		if err := pub.EnsureStream(cfg.Stream); err != nil {
			logger.Warn("event stream not ensured", "stream", cfg.Stream, "error", err)
		}
	}
	return pub, nil
}
