// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package redis implements the auth session registry on Redis.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// sessionValue is the stored marker for a live session.
const sessionValue = "true"

// Options configures the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// SessionRegistry implements auth.SessionRegistry with one key per session.
// Expiry is left to Redis via SET EX.
type SessionRegistry struct {
	client goredis.UniversalClient
}

// NewSessionRegistry wraps an existing client.
func NewSessionRegistry(client goredis.UniversalClient) *SessionRegistry {
	return &SessionRegistry{client: client}
}

// Dial creates a client from opts and verifies it with PING.
func Dial(ctx context.Context, opts Options) (*SessionRegistry, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	reg := NewSessionRegistry(client)
	if err := reg.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return reg, nil
}

// Put stores auth:{userID}:{token} = "true" with the given ttl.
func (r *SessionRegistry) Put(ctx context.Context, userID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return oops.Code("SESSION_TTL_INVALID").With("ttl", ttl).Errorf("session ttl must be positive")
	}
	if err := r.client.Set(ctx, auth.SessionKey(userID, token), sessionValue, ttl).Err(); err != nil {
		return oops.Code("SESSION_PUT_FAILED").
			With("operation", "put session").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// Exists reports whether the session key is present.
func (r *SessionRegistry) Exists(ctx context.Context, userID, token string) (bool, error) {
	n, err := r.client.Exists(ctx, auth.SessionKey(userID, token)).Result()
	if err != nil {
		return false, oops.Code("SESSION_LOOKUP_FAILED").
			With("operation", "check session").
			With("user_id", userID).
			Wrap(err)
	}
	return n > 0, nil
}

// Delete removes the session key. A missing key is not an error.
func (r *SessionRegistry) Delete(ctx context.Context, userID, token string) error {
	if err := r.client.Del(ctx, auth.SessionKey(userID, token)).Err(); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// Ping checks connectivity.
func (r *SessionRegistry) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return oops.Code("SESSION_STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Close releases the client's connections.
func (r *SessionRegistry) Close() error {
	if err := r.client.Close(); err != nil {
		return oops.Code("SESSION_STORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

var _ auth.SessionRegistry = (*SessionRegistry)(nil)
