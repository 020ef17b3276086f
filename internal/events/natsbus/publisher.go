// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package natsbus publishes events to NATS JetStream.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/events"
)

// jetStream is the subset of nats.JetStreamContext used by Publisher.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// Publisher publishes event messages as JSON on one subject.
type Publisher struct {
	conn    *nats.Conn
	js      jetStream
	subject string
}

// Connect dials url and opens a JetStream context for subject.
func Connect(url, subject string, opts ...nats.Option) (*Publisher, error) {
	if subject == "" {
		subject = events.UserRegisteredSubject
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, oops.Code("NATS_CONNECT_FAILED").With("url", url).Wrap(err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, oops.Code("NATS_JETSTREAM_FAILED").With("url", url).Wrap(err)
	}
	return &Publisher{conn: nc, js: js, subject: subject}, nil
}

// EnsureStream creates stream bound to the publisher's subject when it does
// not exist yet. An existing stream is left untouched.
func (p *Publisher) EnsureStream(name string) error {
	_, err := p.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return oops.Code("NATS_STREAM_LOOKUP_FAILED").With("stream", name).Wrap(err)
	}
	if _, err := p.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{p.subject},
	}); err != nil {
		return oops.Code("NATS_STREAM_CREATE_FAILED").With("stream", name).Wrap(err)
	}
	return nil
}

// Publish encodes msg as JSON and publishes it, waiting for the JetStream ack.
func (p *Publisher) Publish(ctx context.Context, msg events.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return oops.Code("EVENT_ENCODE_FAILED").With("key", msg.Key).Wrap(err)
	}
	if _, err := p.js.Publish(p.subject, data, nats.Context(ctx)); err != nil {
		return oops.Code("EVENT_PUBLISH_FAILED").
			With("subject", p.subject).
			With("key", msg.Key).
			Wrap(err)
	}
	return nil
}

// Subject returns the subject messages are published on.
func (p *Publisher) Subject() string {
	return p.subject
}

// Connected reports whether the NATS connection is up.
func (p *Publisher) Connected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains the connection, falling back to a hard close.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

var _ events.Publisher = (*Publisher)(nil)
