// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// CredentialRepository persists users and their credentials.
type CredentialRepository interface {
	// FindByEmail returns the credential for a normalised email with its User
	// populated. Returns ErrNotFound when no credential exists.
	FindByEmail(ctx context.Context, email string) (*Credential, error)

	// Create stores user and cred in one transaction. Either both rows are
	// written or neither is. Returns ErrEmailTaken when the email is already
	// registered, including when a concurrent registration wins the race.
	Create(ctx context.Context, user *User, cred *Credential) error

	// GetUser returns a user by ID. Returns ErrNotFound when absent.
	GetUser(ctx context.Context, id ulid.ULID) (*User, error)

	// UpdatePasswordHash replaces the stored hash for a credential.
	UpdatePasswordHash(ctx context.Context, credentialID ulid.ULID, hash string) error
}
