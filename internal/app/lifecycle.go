// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package app sequences process shutdown.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DefaultStepTimeout bounds each shutdown step when none is configured.
const DefaultStepTimeout = 5 * time.Second

// StopFunc releases one resource. It should return once ctx is done.
type StopFunc func(ctx context.Context) error

type step struct {
	name string
	stop StopFunc
}

// Lifecycle runs registered shutdown steps in reverse registration order,
// like deferred calls: a resource is registered once it exists, so a partly
// started process can be unwound with the same Shutdown call. Each step gets
// its own timeout, and a step that fails or overruns does not prevent the
// remaining ones from running.
type Lifecycle struct {
	mu       sync.Mutex
	steps    []step
	timeout  time.Duration
	logger   *slog.Logger
	shutdown bool
	result   error
}

// NewLifecycle creates a Lifecycle. A non-positive stepTimeout selects
// DefaultStepTimeout; a nil logger selects slog.Default.
func NewLifecycle(stepTimeout time.Duration, logger *slog.Logger) *Lifecycle {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{timeout: stepTimeout, logger: logger}
}

// Add appends a step. Steps added after Shutdown are ignored.
func (l *Lifecycle) Add(name string, stop StopFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return
	}
	l.steps = append(l.steps, step{name: name, stop: stop})
}

// Steps returns the step names in the order Shutdown runs them.
func (l *Lifecycle) Steps() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.steps))
	for i := len(l.steps) - 1; i >= 0; i-- {
		names = append(names, l.steps[i].name)
	}
	return names
}

// Shutdown runs every step once. Later calls return the first result.
// Cancelling ctx does not skip steps; it only stops waiting for them.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return l.result
	}
	l.shutdown = true

	var (
		errs   []error
		failed []string
	)
	for i := len(l.steps) - 1; i >= 0; i-- {
		s := l.steps[i]
		if err := l.run(ctx, s); err != nil {
			errs = append(errs, err)
			failed = append(failed, s.name)
		}
	}

	if len(errs) > 0 {
		l.result = oops.Code("SHUTDOWN_INCOMPLETE").
			With("failed_steps", failed).
			Wrap(errors.Join(errs...))
	}
	return l.result
}

func (l *Lifecycle) run(ctx context.Context, s step) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.stop(stepCtx) }()

	var err error
	select {
	case err = <-done:
		if err != nil {
			err = oops.Code("SHUTDOWN_STEP_FAILED").With("step", s.name).Wrap(err)
		}
	case <-stepCtx.Done():
		err = oops.Code("SHUTDOWN_STEP_TIMEOUT").
			With("step", s.name).
			With("timeout", l.timeout.String()).
			Wrap(stepCtx.Err())
	}

	if err != nil {
		l.logger.Warn("shutdown step failed", "step", s.name, "error", err)
		return err
	}
	l.logger.Info("shutdown step complete", "step", s.name, "duration", time.Since(start).String())
	return nil
}
