// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package httpapi exposes the auth service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/pkg/errutil"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// AuthService is the part of auth.Service the handlers call.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.User, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, userID, token string) error
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
	CurrentUser(ctx context.Context, claims *auth.Claims) (*auth.User, error)
}

// Monitor receives request breadcrumbs, the authenticated user and
// unexpected failures.
type Monitor interface {
	auth.Reporter
	Warning(ctx context.Context, category, message string, data map[string]any)
	SetUser(ctx context.Context, id, email string)
	Middleware(next http.Handler) http.Handler
	Configured() bool
}

// RequestRecorder counts served requests.
type RequestRecorder interface {
	ObserveHTTPRequest(method, route string, status int, elapsed time.Duration)
}

// Check probes one dependency for /health.
type Check func(ctx context.Context) error

// Options configures the API.
type Options struct {
	ServiceName string
	Service     AuthService
	Monitor     Monitor
	Metrics     RequestRecorder
	Logger      *slog.Logger

	// Database and Redis back the /health checks. A nil Database reports
	// not_initialized.
	Database Check
	Redis    Check

	// RequestTimeout bounds each request. Zero selects 30s.
	RequestTimeout time.Duration
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
	// Now overrides the clock used for /health timestamps.
	Now func() time.Time
}

// API holds the handlers and their dependencies.
type API struct {
	opts    Options
	svc     AuthService
	monitor Monitor
	metrics RequestRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// New validates opts and builds an API.
func New(opts Options) (*API, error) {
	if opts.Service == nil {
		return nil, oops.Code(auth.CodeConfigInvalid).Errorf("auth service is required")
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "auth-service"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	a := &API{
		opts:    opts,
		svc:     opts.Service,
		monitor: opts.Monitor,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if a.monitor == nil {
		a.monitor = noopMonitor{}
	}
	if a.metrics == nil {
		a.metrics = noopRecorder{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// Handler returns the routed, instrumented handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.recoverer)
	r.Use(a.monitor.Middleware)
	r.Use(a.observe)
	r.Use(middleware.Timeout(a.opts.RequestTimeout))
	r.Use(middleware.SetHeader("X-Content-Type-Options", "nosniff"))
	r.Use(middleware.SetHeader("X-Frame-Options", "DENY"))
	r.Use(middleware.SetHeader("Referrer-Policy", "no-referrer"))
	r.Use(cors.Handler(a.corsOptions()))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorBody{Status: "error", Message: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{Status: "error", Message: "method not allowed"})
	})

	r.Get("/", a.handleIndex)
	r.Get("/health", a.handleHealth)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(a.requireBearer)
			r.Post("/logout", a.handleLogout)
			r.Get("/me", a.handleMe)
		})
	})

	return otelhttp.NewHandler(r, "authd.http")
}

func (a *API) corsOptions() cors.Options {
	origins := a.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}
}

// recoverer turns a handler panic into a reported 500.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
				panic(rec)
			}
			err := oops.Code(auth.CodeInternal).
				With("method", r.Method).
				With("path", r.URL.Path).
				Errorf("panic: %v", rec)
			a.failRequest(w, r, err)
		}()
		next.ServeHTTP(w, r)
	})
}

// fail writes the error response for an error returned by the auth
// service, which has already reported anything unexpected.
func (a *API) fail(w http.ResponseWriter, _ *http.Request, err error) {
	status, body := errorBody(err)
	writeJSON(w, status, body)
}

// failRequest is fail for errors raised by the handlers themselves.
func (a *API) failRequest(w http.ResponseWriter, r *http.Request, err error) {
	if !auth.IsExpected(err) {
		a.monitor.CaptureError(r.Context(), err, map[string]string{"operation": "http", "path": r.URL.Path})
		errutil.LogErrorContext(r.Context(), a.logger, slog.LevelError, "request failed", err)
	}
	a.fail(w, r, err)
}

// readBody reads at most maxBodyBytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, oops.Code(auth.CodeValidation).Errorf("request body too large")
		}
		return nil, oops.Code(auth.CodeValidation).Wrap(err)
	}
	return body, nil
}

type noopMonitor struct{}

func (noopMonitor) CaptureError(context.Context, error, map[string]string)     {}
func (noopMonitor) Breadcrumb(context.Context, string, string, map[string]any) {}
func (noopMonitor) Warning(context.Context, string, string, map[string]any)    {}
func (noopMonitor) SetUser(context.Context, string, string)                    {}
func (noopMonitor) Middleware(next http.Handler) http.Handler                  { return next }
func (noopMonitor) Configured() bool                                           { return false }

type noopRecorder struct{}

func (noopRecorder) ObserveHTTPRequest(string, string, int, time.Duration) {}
