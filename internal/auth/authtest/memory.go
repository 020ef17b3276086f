// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package authtest provides in-memory auth stores for tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/authd-dev/authd/internal/auth"
)

// CredentialStore is an in-memory auth.CredentialRepository. Email
// uniqueness is enforced under a lock, like a unique index would.
type CredentialStore struct {
	mu      sync.Mutex
	byEmail map[string]*auth.Credential
	users   map[ulid.ULID]*auth.User
}

// NewCredentialStore creates an empty CredentialStore.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		byEmail: make(map[string]*auth.Credential),
		users:   make(map[ulid.ULID]*auth.User),
	}
}

// FindByEmail returns a copy of the stored credential with its user.
func (s *CredentialStore) FindByEmail(_ context.Context, email string) (*auth.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := *cred
	u := *s.users[cred.UserID]
	c.User = &u
	return &c, nil
}

// Create stores both records or neither.
func (s *CredentialStore) Create(_ context.Context, user *auth.User, cred *auth.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[cred.Email]; taken {
		return auth.ErrEmailTaken
	}
	u := *user
	c := *cred
	c.User = nil
	s.users[u.ID] = &u
	s.byEmail[c.Email] = &c
	return nil
}

// GetUser returns a copy of the user.
func (s *CredentialStore) GetUser(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// UpdatePasswordHash replaces the hash on the credential with credentialID.
func (s *CredentialStore) UpdatePasswordHash(_ context.Context, credentialID ulid.ULID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.byEmail {
		if c.ID == credentialID {
			c.PasswordHash = hash
			return nil
		}
	}
	return auth.ErrNotFound
}

// Count returns the number of stored credentials and users.
func (s *CredentialStore) Count() (credentials, users int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byEmail), len(s.users)
}

// SessionStore is an in-memory auth.SessionRegistry with clock-driven expiry.
type SessionStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]time.Time
}

// NewSessionStore creates a SessionStore. A nil now uses time.Now.
func NewSessionStore(now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{now: now, entries: make(map[string]time.Time)}
}

// Put records a session until now+ttl.
func (s *SessionStore) Put(_ context.Context, userID, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[auth.SessionKey(userID, token)] = s.now().Add(ttl)
	return nil
}

// Exists reports whether an unexpired session exists.
func (s *SessionStore) Exists(_ context.Context, userID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[auth.SessionKey(userID, token)]
	return ok && s.now().Before(exp), nil
}

// Delete removes a session if present.
func (s *SessionStore) Delete(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, auth.SessionKey(userID, token))
	return nil
}

// TTL returns the remaining lifetime of a session, or zero if absent.
func (s *SessionStore) TTL(userID, token string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[auth.SessionKey(userID, token)]
	if !ok {
		return 0
	}
	return exp.Sub(s.now())
}

var (
	_ auth.CredentialRepository = (*CredentialStore)(nil)
	_ auth.SessionRegistry      = (*SessionStore)(nil)
)
