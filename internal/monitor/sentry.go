// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package monitor reports unexpected failures and breadcrumbs to Sentry.
//
// A Monitor owns its own sentry.Hub rather than the SDK's global one. The
// HTTP middleware clones that hub per request so breadcrumbs recorded while
// serving a request are attached to any error captured for it.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/logging"
)

// Filtered replaces sensitive values in outgoing events.
const Filtered = "[Filtered]"

// Options configures a Monitor.
type Options struct {
	DSN         string
	Environment string
	Release     string
	ServiceName string
	SampleRate  float64
	// Disabled drops every event after scrubbing, for tests.
	Disabled bool
	// Observe, when set, receives each event after it has been scrubbed.
	Observe func(*sentry.Event)
}

// Monitor implements auth.Reporter on Sentry.
type Monitor struct {
	hub        *sentry.Hub
	configured bool
}

// New creates a Monitor. An empty DSN yields a working Monitor whose events
// go nowhere.
func New(opts Options) (*Monitor, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 1.0
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     opts.Release,
		SampleRate:  opts.SampleRate,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			scrubEvent(event)
			if opts.Observe != nil {
				opts.Observe(event)
			}
			if opts.Disabled {
				return nil
			}
			return event
		},
	})
	if err != nil {
		return nil, oops.Code(auth.CodeConfigInvalid).With("key", "sentry.dsn").Wrap(err)
	}

	scope := sentry.NewScope()
	scope.SetTags(map[string]string{
		"service": opts.ServiceName,
		"version": opts.Release,
	})
	return &Monitor{
		hub:        sentry.NewHub(client, scope),
		configured: opts.DSN != "",
	}, nil
}

// Configured reports whether events are sent anywhere.
func (m *Monitor) Configured() bool {
	return m.configured
}

func (m *Monitor) hubFor(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return m.hub
}

// CaptureError sends err with tags and its oops context.
func (m *Monitor) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := m.hubFor(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(tags)
		if oopsErr, ok := oops.AsOops(err); ok {
			var code any = oopsErr.Code()
			if code, ok := code.(string); ok && code != "" {
				scope.SetTag("error_code", code)
			}
			if errCtx := oopsErr.Context(); len(errCtx) > 0 {
				scope.SetContext("error", sentry.Context(scrubMap(errCtx)))
			}
		}
		hub.CaptureException(err)
	})
}

// Breadcrumb records an info breadcrumb on the request's hub.
func (m *Monitor) Breadcrumb(ctx context.Context, category, message string, data map[string]any) {
	m.hubFor(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Data:      scrubMap(data),
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}, nil)
}

// Warning records a warning breadcrumb, used by health checks.
func (m *Monitor) Warning(ctx context.Context, category, message string, data map[string]any) {
	m.hubFor(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Data:      scrubMap(data),
		Level:     sentry.LevelWarning,
		Timestamp: time.Now(),
	}, nil)
}

// SetUser attaches the authenticated user to the request's scope. Only the
// ID and email are sent.
func (m *Monitor) SetUser(ctx context.Context, id, email string) {
	m.hubFor(ctx).Scope().SetUser(sentry.User{ID: id, Email: email})
}

// maxRequestBody bounds the request body attached to events.
const maxRequestBody = 64 << 10

// Middleware gives each request its own hub carrying the request details and
// a copy of its body. scrubEvent filters both before anything is sent.
func (m *Monitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := m.hub.Clone()
		scope := hub.Scope()
		scope.SetRequest(r)
		if r.Body != nil && r.ContentLength > 0 && r.ContentLength <= maxRequestBody {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
			if err == nil {
				scope.SetRequestBody(body)
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
		}
		next.ServeHTTP(w, r.WithContext(sentry.SetHubOnContext(r.Context(), hub)))
	})
}

// Close flushes buffered events, bounded by ctx.
func (m *Monitor) Close(ctx context.Context) error {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 || !m.hub.Flush(timeout) {
		return oops.Code("SENTRY_FLUSH_TIMEOUT").With("timeout", timeout.String()).Errorf("sentry events not flushed")
	}
	return nil
}

// scrubEvent removes passwords, tokens and authorization headers from the
// request body, headers, extra data and breadcrumbs of event.
func scrubEvent(event *sentry.Event) {
	if event == nil {
		return
	}
	if req := event.Request; req != nil {
		req.Data = scrubBody(req.Data)
		for k := range req.Headers {
			if strings.EqualFold(k, "authorization") || strings.EqualFold(k, "cookie") {
				req.Headers[k] = Filtered
			}
		}
	}
	event.Extra = scrubMap(event.Extra)
	for _, crumb := range event.Breadcrumbs {
		if crumb != nil {
			crumb.Data = scrubMap(crumb.Data)
		}
	}
}

// scrubBody filters sensitive fields of a JSON object body. Any other body is
// replaced entirely.
func scrubBody(body string) string {
	if body == "" {
		return body
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Filtered
	}
	changed := false
	for k := range fields {
		if logging.IsSensitive(k) {
			fields[k] = Filtered
			changed = true
		}
	}
	if !changed {
		return body
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return Filtered
	}
	return string(out)
}

func scrubMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if logging.IsSensitive(k) {
			out[k] = Filtered
			continue
		}
		out[k] = v
	}
	return out
}

var _ auth.Reporter = (*Monitor)(nil)
