// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/events"
	"github.com/authd-dev/authd/pkg/errutil"
)

type fakeJetStream struct {
	subject    string
	data       []byte
	publishErr error
	infoErr    error
	added      *nats.StreamConfig
	addErr     error
}

func (f *fakeJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.subject = subj
	f.data = data
	return &nats.PubAck{Stream: "AUTH", Sequence: 1}, nil
}

func (f *fakeJetStream) StreamInfo(string, ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return &nats.StreamInfo{}, nil
}

func (f *fakeJetStream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func TestPublisher_Publish(t *testing.T) {
	js := &fakeJetStream{}
	p := &Publisher{js: js, subject: events.UserRegisteredSubject}

	user, err := auth.NewUser("Ann", "Lee", "ann@example.com", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), events.Message{Key: user.ID.String(), Value: user}))
	assert.Equal(t, "auth.user.registered", js.subject)

	var payload struct {
		Key   string         `json:"key"`
		Value map[string]any `json:"value"`
	}
	require.NoError(t, json.Unmarshal(js.data, &payload))
	assert.Equal(t, user.ID.String(), payload.Key)
	assert.Equal(t, user.ID.String(), payload.Value["id"])
	assert.Equal(t, "Ann", payload.Value["firstName"])
	assert.Equal(t, "ann@example.com", payload.Value["email"])
}

func TestPublisher_PublishError(t *testing.T) {
	p := &Publisher{js: &fakeJetStream{publishErr: nats.ErrNoResponders}, subject: "s"}

	err := p.Publish(context.Background(), events.Message{Key: "k"})
	errutil.AssertErrorCode(t, err, "EVENT_PUBLISH_FAILED")
	assert.ErrorIs(t, err, nats.ErrNoResponders)
}

func TestPublisher_EnsureStream(t *testing.T) {
	t.Run("existing stream untouched", func(t *testing.T) {
		js := &fakeJetStream{}
		p := &Publisher{js: js, subject: "auth.user.registered"}
		require.NoError(t, p.EnsureStream("AUTH"))
		assert.Nil(t, js.added)
	})

	t.Run("missing stream created", func(t *testing.T) {
		js := &fakeJetStream{infoErr: nats.ErrStreamNotFound}
		p := &Publisher{js: js, subject: "auth.user.registered"}
		require.NoError(t, p.EnsureStream("AUTH"))
		require.NotNil(t, js.added)
		assert.Equal(t, "AUTH", js.added.Name)
		assert.Equal(t, []string{"auth.user.registered"}, js.added.Subjects)
	})

	t.Run("lookup failure", func(t *testing.T) {
		p := &Publisher{js: &fakeJetStream{infoErr: errors.New("timeout")}, subject: "s"}
		errutil.AssertErrorCode(t, p.EnsureStream("AUTH"), "NATS_STREAM_LOOKUP_FAILED")
	})

	t.Run("create failure", func(t *testing.T) {
		p := &Publisher{js: &fakeJetStream{infoErr: nats.ErrStreamNotFound, addErr: errors.New("denied")}, subject: "s"}
		errutil.AssertErrorCode(t, p.EnsureStream("AUTH"), "NATS_STREAM_CREATE_FAILED")
	})
}

func TestPublisher_NilSafe(t *testing.T) {
	var p *Publisher
	p.Close()
	assert.False(t, (&Publisher{}).Connected())
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "", nats.Timeout(100*time.Millisecond))
	errutil.AssertErrorCode(t, err, "NATS_CONNECT_FAILED")
}
