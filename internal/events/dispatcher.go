// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package events publishes domain events produced by the auth service.
//
// The Dispatcher is registered as the auth.RegistrationHook. It queues each
// event on a bounded channel and a single worker publishes it with retries,
// so a slow or unavailable broker never blocks or fails a registration.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/pkg/errutil"
)

// UserRegisteredSubject is the default subject for registration events.
const UserRegisteredSubject = "auth.user.registered"

// Message is the envelope published for each event.
type Message struct {
	Key   string     `json:"key"`
	Value *auth.User `json:"value"`
}

// Publisher delivers a message to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Recorder counts dispatch outcomes.
type Recorder interface {
	EventPublishFailed()
	EventDropped()
}

// Defaults for DispatcherOptions.
const (
	DefaultQueueSize      = 256
	DefaultMaxRetries     = 3
	DefaultBaseBackoff    = 100 * time.Millisecond
	DefaultPublishTimeout = 5 * time.Second
)

// DispatcherOptions configures a Dispatcher. Zero values take defaults.
type DispatcherOptions struct {
	QueueSize      int
	MaxRetries     uint64
	BaseBackoff    time.Duration
	PublishTimeout time.Duration
	Reporter       auth.Reporter
	Metrics        Recorder
	Logger         *slog.Logger
}

// Dispatcher publishes registration events asynchronously.
type Dispatcher struct {
	pub    Publisher
	opts   DispatcherOptions
	queue  chan Message
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a Dispatcher and starts its worker.
func NewDispatcher(pub Publisher, opts DispatcherOptions) (*Dispatcher, error) {
	if pub == nil {
		return nil, oops.Code(auth.CodeConfigInvalid).Errorf("event publisher is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d := &Dispatcher{
		pub:   pub,
		opts:  opts,
		queue: make(chan Message, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// UserRegistered queues a user.registered event. It never blocks: when the
// queue is full or the dispatcher is closed the event is dropped and counted.
func (d *Dispatcher) UserRegistered(ctx context.Context, user *auth.User) {
	if user == nil {
		return
	}
	msg := Message{Key: user.ID.String(), Value: user}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, msg, "dispatcher closed")
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.drop(ctx, msg, "queue full")
	}
}

func (d *Dispatcher) drop(ctx context.Context, msg Message, reason string) {
	if d.opts.Metrics != nil {
		d.opts.Metrics.EventDropped()
	}
	err := oops.Code("EVENT_DROPPED").
		With("reason", reason).
		With("key", msg.Key).
		Errorf("user.registered event dropped")
	d.report(ctx, err, msg)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		d.publish(msg)
	}
}

func (d *Dispatcher) publish(msg Message) {
	ctx := context.Background()
	backoff := retry.WithMaxRetries(d.opts.MaxRetries, retry.NewExponential(d.opts.BaseBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, d.opts.PublishTimeout)
		defer cancel()
		if err := d.pub.Publish(pctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		d.opts.Logger.Debug("user.registered event published", "key", msg.Key)
		return
	}

	if d.opts.Metrics != nil {
		d.opts.Metrics.EventPublishFailed()
	}
	d.report(ctx, oops.Code("EVENT_PUBLISH_FAILED").
		With("key", msg.Key).
		With("attempts", d.opts.MaxRetries+1).
		Wrap(err), msg)
}

func (d *Dispatcher) report(ctx context.Context, err error, msg Message) {
	errutil.LogErrorContext(ctx, d.opts.Logger, slog.LevelError, "event dispatch failed", err)
	if d.opts.Reporter != nil {
		d.opts.Reporter.CaptureError(ctx, err, map[string]string{
			"operation": "publish_event",
			"event":     "user.registered",
			"user_id":   msg.Key,
		})
	}
}

// Close stops accepting events and waits for queued events to be published.
// It returns ctx's error if the queue does not drain in time.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return oops.Code("EVENT_DRAIN_TIMEOUT").
			With("pending", len(d.queue)).
			Wrap(ctx.Err())
	}
}

var _ auth.RegistrationHook = (*Dispatcher)(nil)
