// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// healthCheckTimeout bounds each /health probe.
const healthCheckTimeout = 2 * time.Second

// Health is the body of GET /health.
type Health struct {
	Service   string       `json:"service"`
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Checks    HealthChecks `json:"checks"`
}

// HealthChecks reports each dependency.
type HealthChecks struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
	Sentry   string `json:"sentry"`
}

type userBody struct {
	User *auth.User `json:"user"`
}

type messageBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (a *API) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": a.opts.ServiceName,
		"status":  "running",
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Service:   a.opts.ServiceName,
		Status:    "ok",
		Timestamp: a.now().UTC(),
		Checks:    HealthChecks{Sentry: "configured"},
	}

	switch {
	case a.opts.Database == nil:
		health.Checks.Database = "not_initialized"
	case probe(r.Context(), a.opts.Database) != nil:
		health.Checks.Database = "error"
		health.Status = "degraded"
	default:
		health.Checks.Database = "connected"
	}

	if a.opts.Redis == nil || probe(r.Context(), a.opts.Redis) != nil {
		health.Checks.Redis = "error"
		health.Status = "degraded"
	} else {
		health.Checks.Redis = "connected"
	}

	if !a.monitor.Configured() {
		health.Checks.Sentry = "not_configured"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
		a.monitor.Warning(r.Context(), "health", "health check failed", map[string]any{
			"database": health.Checks.Database,
			"redis":    health.Checks.Redis,
		})
	}
	writeJSON(w, status, health)
}

func probe(ctx context.Context, check Check) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return check(ctx)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := a.decode(w, r, "register.schema.json", &req); err != nil {
		a.failRequest(w, r, err)
		return
	}

	user, err := a.svc.Register(r.Context(), auth.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userBody{User: user})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := a.decode(w, r, "login.schema.json", &req); err != nil {
		a.failRequest(w, r, err)
		return
	}

	result, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		a.failRequest(w, r, oops.Code(auth.CodeInternal).Errorf("logout reached without claims"))
		return
	}
	if err := a.svc.Logout(r.Context(), claims.UserID, tokenFromContext(r.Context())); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Status: "success", Message: "logged out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		a.failRequest(w, r, oops.Code(auth.CodeInternal).Errorf("me reached without claims"))
		return
	}
	user, err := a.svc.CurrentUser(r.Context(), claims)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userBody{User: user})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	return decodeRequest(schema, body, dst)
}
