// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"time"
)

// SessionTTL is the lifetime of a session record. It is fixed and does not
// follow the configured token lifetime.
const SessionTTL = 24 * time.Hour

// SessionKeyPrefix namespaces session records in the key-value store.
const SessionKeyPrefix = "auth"

// SessionKey returns the registry key for a user's token: auth:{userId}:{token}.
func SessionKey(userID, token string) string {
	return SessionKeyPrefix + ":" + userID + ":" + token
}

// SessionRegistry records which issued tokens are still live.
// Implementations must let the backing store handle expiry.
type SessionRegistry interface {
	// Put records a live session that expires after ttl.
	Put(ctx context.Context, userID, token string, ttl time.Duration) error

	// Exists reports whether the session record is present.
	Exists(ctx context.Context, userID, token string) (bool, error)

	// Delete removes the session record. Deleting an absent record is not an error.
	Delete(ctx context.Context, userID, token string) error
}
