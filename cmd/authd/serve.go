// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authd-dev/authd/internal/app"
	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/auth/postgres"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/events"
	"github.com/authd-dev/authd/internal/httpapi"
	"github.com/authd-dev/authd/internal/logging"
	"github.com/authd-dev/authd/internal/monitor"
	"github.com/authd-dev/authd/internal/observability"
	"github.com/authd-dev/authd/internal/store"
	"github.com/authd-dev/authd/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP auth service",
		Long: `Start the auth service: connect PostgreSQL, Redis and NATS, then serve
the /api/v1/auth routes until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the service with injectable dependencies.
// If deps is nil, default implementations are used. Every resource is
// registered with a Lifecycle as it is created, so both a failed startup and
// a normal shutdown release them newest first.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) (err error) {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.setDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := deps.ConfigLoader(configPath(), cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	lifetime, err := cfg.TokenLifetime()
	if err != nil {
		return err
	}

	logger, err := logging.Setup(logging.Options{
		Service: cfg.Service.Name,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, deps.LogOutput)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	lc := app.NewLifecycle(cfg.Shutdown.StepTimeout, logger)
	defer func() {
		if shutdownErr := lc.Shutdown(context.Background()); shutdownErr != nil {
			errutil.LogError(logger, "shutdown incomplete", shutdownErr)
			if err == nil {
				err = shutdownErr
			}
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting auth service",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"log_format", cfg.Log.Format,
	)

	mon, err := deps.MonitorFactory(monitor.Options{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     version,
		ServiceName: cfg.Service.Name,
		SampleRate:  cfg.Sentry.SampleRate,
	})
	if err != nil {
		return err
	}
	lc.Add("sentry", mon.Close)
	if !mon.Configured() {
		logger.Warn("sentry dsn not set, error reporting disabled")
	}

	var ready atomic.Bool
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load, logger)
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	publisher, err := deps.PublisherFactory(cfg.NATS, logger)
	if err != nil {
		return err
	}
	dispatcher, err := events.NewDispatcher(publisher, events.DispatcherOptions{
		Reporter: mon,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		publisher.Close()
		return err
	}
	lc.Add("events", func(ctx context.Context) error {
		defer publisher.Close()
		return dispatcher.Close(ctx)
	})

	sessions, err := deps.SessionStoreFactory(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	lc.Add("redis", func(context.Context) error { return sessions.Close() })
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	if cfg.Database.AutoMigrate {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory); err != nil {
			return err
		}
	}
	db, err := deps.DatabaseFactory(ctx, cfg.Database)
	if err != nil {
		return err
	}
	lc.Add("postgres", func(context.Context) error {
		db.Close()
		return nil
	})
	logger.Info("connected to database")

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		lc.Add("observability", obsServer.Stop)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	hasher, err := auth.NewHasher(cfg.Hasher.Algorithm, cfg.Hasher.Cost)
	if err != nil {
		return err
	}
	issuer, err := auth.NewJWTIssuer(cfg.JWT.Secret, lifetime, auth.WithIssuer(cfg.JWT.Issuer))
	if err != nil {
		return err
	}
	svc, err := auth.NewService(auth.ServiceDeps{
		Credentials: postgres.NewCredentialRepository(db),
		Hasher:      hasher,
		Tokens:      issuer,
		Sessions:    sessions,
		Events:      dispatcher,
		Reporter:    mon,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Options{
		ServiceName:    cfg.Service.Name,
		Service:        svc,
		Monitor:        mon,
		Metrics:        metrics,
		Logger:         logger,
		Database:       func(ctx context.Context) error { return store.Check(ctx, db) },
		Redis:          sessions.Ping,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	httpErrCh := make(chan error, 1)
	go func() {
		defer close(httpErrCh)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrCh <- serveErr
		}
	}()
	lc.Add("http", httpServer.Shutdown)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Println("Auth service started")
	logger.Info("auth service ready", "http_addr", listener.Addr().String())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case serveErr, ok := <-httpErrCh:
		if ok && serveErr != nil {
			ready.Store(false)
			return oops.Code("HTTP_SERVE_FAILED").Wrap(serveErr)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	logger.Info("shutting down", "steps", lc.Steps())
	return nil
}

// runAutoMigration applies pending migrations before the pool is opened.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr, "note", "connection may leak")
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error arrives, the channel is closed, or ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
