// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/auth/authtest"
	"github.com/authd-dev/authd/internal/httpapi"
	"github.com/authd-dev/authd/internal/monitor"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const annJSON = `{"firstName":"Ann","lastName":"Lee","email":"ann@example.com","password":"secret123"}`

type sink struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (s *sink) observe(e *sentry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) ObserveHTTPRequest(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, method+" "+route+" "+http.StatusText(status))
}

func (r *routeRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routes...)
}

// failingSessions fails every write so login hits an internal error.
type failingSessions struct {
	*authtest.SessionStore
}

func (failingSessions) Put(context.Context, string, string, time.Duration) error {
	return errors.New("dial tcp 10.0.0.7:6379: connection refused")
}

type testServer struct {
	handler  http.Handler
	reported *sink
	metrics  *routeRecorder
}

type serverOption func(*httpapi.Options, *auth.ServiceDeps)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	reported := &sink{}
	mon, err := monitor.New(monitor.Options{Disabled: true, Observe: reported.observe})
	require.NoError(t, err)

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := auth.NewJWTIssuer(testSecret, 24*time.Hour)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := auth.ServiceDeps{
		Credentials: authtest.NewCredentialStore(),
		Hasher:      hasher,
		Tokens:      issuer,
		Sessions:    authtest.NewSessionStore(nil),
		Reporter:    mon,
		Logger:      logger,
	}
	metrics := &routeRecorder{}
	apiOpts := httpapi.Options{
		ServiceName: "auth-service",
		Monitor:     mon,
		Metrics:     metrics,
		Logger:      logger,
		Database:    func(context.Context) error { return nil },
		Redis:       func(context.Context) error { return nil },
		Now:         func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&apiOpts, &deps)
	}

	svc, err := auth.NewService(deps)
	require.NoError(t, err)
	if apiOpts.Service == nil {
		apiOpts.Service = svc
	}
	api, err := httpapi.New(apiOpts)
	require.NoError(t, err)

	return &testServer{handler: api.Handler(), reported: reported, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:51000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", annJSON, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, body := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ann@example.com","password":"secret123"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestNew_RequiresService(t *testing.T) {
	_, err := httpapi.New(httpapi.Options{})
	require.Error(t, err)
}

func TestIndex(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodGet, "/", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "auth-service", body["service"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHealth(t *testing.T) {
	broken := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name     string
		opt      serverOption
		status   int
		database string
		redis    string
	}{
		{"all connected", func(*httpapi.Options, *auth.ServiceDeps) {}, http.StatusOK, "connected", "connected"},
		{"database error", func(o *httpapi.Options, _ *auth.ServiceDeps) { o.Database = broken }, http.StatusServiceUnavailable, "error", "connected"},
		{"database not initialized", func(o *httpapi.Options, _ *auth.ServiceDeps) { o.Database = nil }, http.StatusOK, "not_initialized", "connected"},
		{"redis error", func(o *httpapi.Options, _ *auth.ServiceDeps) { o.Redis = broken }, http.StatusServiceUnavailable, "connected", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.opt)
			rec, body := s.do(t, http.MethodGet, "/health", "", "")

			assert.Equal(t, tt.status, rec.Code)
			checks, ok := body["checks"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.database, checks["database"])
			assert.Equal(t, tt.redis, checks["redis"])
			assert.Equal(t, "not_configured", checks["sentry"])
			assert.Equal(t, "2026-03-01T12:00:00Z", body["timestamp"])
			if tt.status == http.StatusOK {
				assert.Equal(t, "ok", body["status"])
			} else {
				assert.Equal(t, "degraded", body["status"])
			}
		})
	}
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/api/v1/auth/register", annJSON, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ann", user["firstName"])
	assert.Equal(t, "Lee", user["lastName"])
	assert.Equal(t, "ann@example.com", user["email"])
	assert.NotEmpty(t, user["id"])
	assert.NotContains(t, rec.Body.String(), "secret123")
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestRegister_DuplicateEmail(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", annJSON, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	dup := `{"firstName":"Ann","lastName":"Lee","email":"ANN@example.com","password":"other-pass"}`
	rec, body := s.do(t, http.MethodPost, "/api/v1/auth/register", dup, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "email already in use", body["message"])
	assert.Zero(t, s.reported.count(), "conflicts are not reported")
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
		field   string
	}{
		{"empty body", "", "request body is required", ""},
		{"malformed json", `{"firstName":`, "request body is not valid JSON", ""},
		{"missing first name", `{"lastName":"Lee","email":"ann@example.com","password":"secret123"}`, "firstName is required", "firstName"},
		{"empty password", `{"firstName":"Ann","lastName":"Lee","email":"ann@example.com","password":""}`, "password must not be empty", "password"},
		{"bad email", `{"firstName":"Ann","lastName":"Lee","email":"not-an-email","password":"secret123"}`, "email is not a valid email address", "email"},
		{"wrong type", `{"firstName":7,"lastName":"Lee","email":"ann@example.com","password":"secret123"}`, "firstName has the wrong type", "firstName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec, body := s.do(t, http.MethodPost, "/api/v1/auth/register", tt.body, "")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.message, body["message"])
			if tt.field != "" {
				errs, ok := body["errors"].([]any)
				require.True(t, ok)
				first, ok := errs[0].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, tt.field, first["field"])
			}
			assert.Zero(t, s.reported.count())
		})
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	parts := strings.Split(token, ".")
	assert.Len(t, parts, 3, "token is a compact JWT")
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	s := newTestServer(t)
	s.login(t)

	wrongPassword, wpBody := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ann@example.com","password":"nope"}`, "")
	unknownEmail, ueBody := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"bob@example.com","password":"nope"}`, "")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, wpBody, ueBody)
	assert.Equal(t, "invalid credentials", wpBody["message"])
	assert.Zero(t, s.reported.count())
}

func TestLogin_InternalErrorIsOpaque(t *testing.T) {
	s := newTestServer(t, func(_ *httpapi.Options, deps *auth.ServiceDeps) {
		deps.Sessions = failingSessions{authtest.NewSessionStore(nil)}
	})

	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", annJSON, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ann@example.com","password":"secret123"}`, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, httpapi.InternalMessage, body["message"])
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
	assert.Equal(t, 1, s.reported.count(), "reported exactly once")
}

func TestLogoutAndMe(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	rec, body := s.do(t, http.MethodGet, "/api/v1/auth/me", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ann@example.com", user["email"])

	rec, body = s.do(t, http.MethodPost, "/api/v1/auth/logout", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/auth/me", "", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session revoked", body["message"])

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", "", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a revoked token cannot log out again")
}

func TestBearerRequired(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic YW5uOnNlY3JldA=="},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var body httpapi.ErrorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "error", body.Status)
		})
	}
	assert.Zero(t, s.reported.count())
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodGet, "/api/v1/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", body["message"])
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	s := newTestServer(t)
	s.login(t)
	s.do(t, http.MethodGet, "/missing", "", "")

	assert.Equal(t, []string{
		"POST /api/v1/auth/register Created",
		"POST /api/v1/auth/login OK",
		"GET unmatched Not Found",
	}, s.metrics.all())
}

type panickingService struct {
	httpapi.AuthService
}

func (panickingService) Login(context.Context, string, string) (*auth.LoginResult, error) {
	panic("nil map write")
}

func TestPanicIsRecovered(t *testing.T) {
	s := newTestServer(t, func(o *httpapi.Options, _ *auth.ServiceDeps) {
		o.Service = panickingService{}
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"email":"a@b.c","password":"x"}`))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), httpapi.InternalMessage)
	assert.Equal(t, 1, s.reported.count())
}
