// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/authd-dev/authd/internal/auth"
)

// T is the subset of testing.TB the constructors need.
type T interface {
	mock.TestingT
	Cleanup(func())
}

func register(t T, m *mock.Mock) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// MockCredentialRepository mocks auth.CredentialRepository.
type MockCredentialRepository struct {
	mock.Mock
}

// NewMockCredentialRepository creates a mock that asserts its expectations on cleanup.
func NewMockCredentialRepository(t T) *MockCredentialRepository {
	m := &MockCredentialRepository{}
	register(t, &m.Mock)
	return m
}

func (m *MockCredentialRepository) FindByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	args := m.Called(ctx, email)
	cred, _ := args.Get(0).(*auth.Credential)
	return cred, args.Error(1)
}

func (m *MockCredentialRepository) Create(ctx context.Context, user *auth.User, cred *auth.Credential) error {
	return m.Called(ctx, user, cred).Error(0)
}

func (m *MockCredentialRepository) GetUser(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockCredentialRepository) UpdatePasswordHash(ctx context.Context, credentialID ulid.ULID, hash string) error {
	return m.Called(ctx, credentialID, hash).Error(0)
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t T) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	register(t, &m.Mock)
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// MockTokenIssuer mocks auth.TokenIssuer.
type MockTokenIssuer struct {
	mock.Mock
}

// NewMockTokenIssuer creates a mock that asserts its expectations on cleanup.
func NewMockTokenIssuer(t T) *MockTokenIssuer {
	m := &MockTokenIssuer{}
	register(t, &m.Mock)
	return m
}

func (m *MockTokenIssuer) Issue(claims auth.Claims) (string, error) {
	args := m.Called(claims)
	return args.String(0), args.Error(1)
}

func (m *MockTokenIssuer) Verify(token string) (*auth.Claims, error) {
	args := m.Called(token)
	claims, _ := args.Get(0).(*auth.Claims)
	return claims, args.Error(1)
}

// MockSessionRegistry mocks auth.SessionRegistry.
type MockSessionRegistry struct {
	mock.Mock
}

// NewMockSessionRegistry creates a mock that asserts its expectations on cleanup.
func NewMockSessionRegistry(t T) *MockSessionRegistry {
	m := &MockSessionRegistry{}
	register(t, &m.Mock)
	return m
}

func (m *MockSessionRegistry) Put(ctx context.Context, userID, token string, ttl time.Duration) error {
	return m.Called(ctx, userID, token, ttl).Error(0)
}

func (m *MockSessionRegistry) Exists(ctx context.Context, userID, token string) (bool, error) {
	args := m.Called(ctx, userID, token)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionRegistry) Delete(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

// MockReporter mocks auth.Reporter. Breadcrumbs are accepted without
// expectations; only CaptureError calls are asserted.
type MockReporter struct {
	mock.Mock
}

// NewMockReporter creates a mock that asserts its expectations on cleanup.
func NewMockReporter(t T) *MockReporter {
	m := &MockReporter{}
	register(t, &m.Mock)
	return m
}

func (m *MockReporter) CaptureError(ctx context.Context, err error, tags map[string]string) {
	m.Called(ctx, err, tags)
}

func (m *MockReporter) Breadcrumb(context.Context, string, string, map[string]any) {}

// MockRegistrationHook mocks auth.RegistrationHook.
type MockRegistrationHook struct {
	mock.Mock
}

// NewMockRegistrationHook creates a mock that asserts its expectations on cleanup.
func NewMockRegistrationHook(t T) *MockRegistrationHook {
	m := &MockRegistrationHook{}
	register(t, &m.Mock)
	return m
}

func (m *MockRegistrationHook) UserRegistered(ctx context.Context, user *auth.User) {
	m.Called(ctx, user)
}

var (
	_ auth.CredentialRepository = (*MockCredentialRepository)(nil)
	_ auth.PasswordHasher       = (*MockPasswordHasher)(nil)
	_ auth.TokenIssuer          = (*MockTokenIssuer)(nil)
	_ auth.SessionRegistry      = (*MockSessionRegistry)(nil)
	_ auth.Reporter             = (*MockReporter)(nil)
	_ auth.RegistrationHook     = (*MockRegistrationHook)(nil)
)
