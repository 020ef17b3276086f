// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/authd-dev/authd/pkg/errutil"
)

var tracer = otel.Tracer("github.com/authd-dev/authd/internal/auth")

// Operation names used for metrics, spans and log messages.
const (
	OpRegister     = "register"
	OpLogin        = "login"
	OpLogout       = "logout"
	OpAuthenticate = "authenticate"
)

// Reporter receives unexpected failures and diagnostic breadcrumbs.
type Reporter interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
	Breadcrumb(ctx context.Context, category, message string, data map[string]any)
}

// RegistrationHook runs after a user and credential have been committed.
// Implementations must not block and must not fail the registration.
type RegistrationHook interface {
	UserRegistered(ctx context.Context, user *User)
}

// OperationRecorder counts orchestrator outcomes.
type OperationRecorder interface {
	RecordAuthOperation(operation, outcome string)
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string `json:"token"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// ServiceDeps holds the collaborators of a Service. Credentials, Hasher,
// Tokens and Sessions are required; the rest default to no-ops.
type ServiceDeps struct {
	Credentials CredentialRepository
	Hasher      PasswordHasher
	Tokens      TokenIssuer
	Sessions    SessionRegistry
	Events      RegistrationHook
	Reporter    Reporter
	Metrics     OperationRecorder
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service orchestrates registration, login, logout and token authentication.
type Service struct {
	creds     CredentialRepository
	hasher    PasswordHasher
	tokens    TokenIssuer
	sessions  SessionRegistry
	events    RegistrationHook
	reporter  Reporter
	metrics   OperationRecorder
	logger    *slog.Logger
	now       func() time.Time
	dummyHash string
}

// NewService creates a Service, validating its dependencies.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Credentials == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("credential repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("password hasher is required")
	case deps.Tokens == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("token issuer is required")
	case deps.Sessions == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("session registry is required")
	}

	s := &Service{
		creds:    deps.Credentials,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		events:   deps.Events,
		reporter: deps.Reporter,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.events == nil {
		s.events = noopHook{}
	}
	if s.reporter == nil {
		s.reporter = noopReporter{}
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	// Login verifies unknown emails against this hash so that response time
	// does not reveal whether an account exists.
	dummy, err := dummyPasswordHash(s.hasher)
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy

	return s, nil
}

func dummyPasswordHash(h PasswordHasher) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}
	hash, err := h.Hash(hex.EncodeToString(buf))
	if err != nil {
		return "", oops.Code(CodeConfigInvalid).With("operation", "compute dummy hash").Wrap(err)
	}
	return hash, nil
}

// Register creates a user and credential. The email pre-check is a fast
// path only; the repository's unique constraint decides races.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *User, err error) {
	ctx, span := s.start(ctx, OpRegister)
	defer func() { s.finish(span, OpRegister, err) }()

	email := NormalizeEmail(in.Email)
	s.reporter.Breadcrumb(ctx, "auth", "user registration attempt", map[string]any{"email": email})

	if in.Password == "" {
		return nil, oops.Code(CodeValidation).With("field", "password").Errorf("password is required")
	}
	user, err := NewUser(in.FirstName, in.LastName, email, s.now())
	if err != nil {
		return nil, err
	}

	if _, err := s.creds.FindByEmail(ctx, email); err == nil {
		s.reporter.Breadcrumb(ctx, "auth", "registration failed: email already exists", map[string]any{"email": email})
		return nil, emailTakenError(email)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, s.internal(ctx, OpRegister, "find credential by email", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if IsExpected(err) {
			return nil, err
		}
		return nil, s.internal(ctx, OpRegister, "hash password", err)
	}

	cred, err := NewCredential(user, hash)
	if err != nil {
		return nil, s.internal(ctx, OpRegister, "build credential", err)
	}

	if err := s.creds.Create(ctx, user, cred); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.reporter.Breadcrumb(ctx, "auth", "registration failed: email already exists", map[string]any{"email": email})
			return nil, emailTakenError(email)
		}
		return nil, s.internal(ctx, OpRegister, "create credential", err)
	}

	s.events.UserRegistered(ctx, user)

	s.reporter.Breadcrumb(ctx, "auth", "user registered", map[string]any{"user_id": user.ID.String(), "email": email})
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user, nil
}

// Login checks credentials, issues a token and records its session.
// Unknown emails and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (_ *LoginResult, err error) {
	ctx, span := s.start(ctx, OpLogin)
	defer func() { s.finish(span, OpLogin, err) }()

	email = NormalizeEmail(email)
	s.reporter.Breadcrumb(ctx, "auth", "user login attempt", map[string]any{"email": email})

	cred, lookupErr := s.creds.FindByEmail(ctx, email)
	found := lookupErr == nil
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return nil, s.internal(ctx, OpLogin, "find credential by email", lookupErr)
	}

	targetHash := s.dummyHash
	if found {
		targetHash = cred.PasswordHash
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !found {
			return nil, invalidCredentialsError()
		}
		return nil, s.internal(ctx, OpLogin, "verify password", verifyErr)
	}

	if !found || !valid {
		s.reporter.Breadcrumb(ctx, "auth", "login failed: invalid credentials", map[string]any{"email": email})
		return nil, invalidCredentialsError()
	}
	if cred.User == nil {
		return nil, s.internal(ctx, OpLogin, "load user", oops.Errorf("credential %s has no user", cred.ID))
	}

	token, err := s.tokens.Issue(ClaimsForUser(cred.User))
	if err != nil {
		return nil, s.internal(ctx, OpLogin, "issue token", err)
	}

	if err := s.sessions.Put(ctx, cred.User.ID.String(), token, SessionTTL); err != nil {
		return nil, s.internal(ctx, OpLogin, "record session", err)
	}

	s.upgradeHash(ctx, cred, password)

	s.reporter.Breadcrumb(ctx, "auth", "user logged in", map[string]any{"user_id": cred.User.ID.String(), "email": email})
	s.logger.InfoContext(ctx, "user logged in", "user_id", cred.User.ID.String())

	return &LoginResult{
		Token:     token,
		FirstName: cred.User.FirstName,
		LastName:  cred.User.LastName,
		Email:     cred.Email,
	}, nil
}

// upgradeHash rehashes the password when the stored hash uses an outdated
// algorithm or cost. Failures are logged and do not affect the login.
func (s *Service) upgradeHash(ctx context.Context, cred *Credential, password string) {
	if !s.hasher.NeedsUpgrade(cred.PasswordHash) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "password rehash failed", err)
		return
	}
	if err := s.creds.UpdatePasswordHash(ctx, cred.ID, newHash); err != nil {
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "password rehash failed", err)
		return
	}
	cred.PasswordHash = newHash
}

// Logout revokes the session for token. Revoking an unknown session succeeds.
func (s *Service) Logout(ctx context.Context, userID, token string) (err error) {
	ctx, span := s.start(ctx, OpLogout)
	defer func() { s.finish(span, OpLogout, err) }()

	s.reporter.Breadcrumb(ctx, "auth", "user logout", map[string]any{"user_id": userID})

	if err := s.sessions.Delete(ctx, userID, token); err != nil {
		return s.internal(ctx, OpLogout, "delete session", err)
	}

	s.logger.InfoContext(ctx, "user logged out", "user_id", userID)
	return nil
}

// Authenticate verifies token and requires its session to still be live.
func (s *Service) Authenticate(ctx context.Context, token string) (_ *Claims, err error) {
	ctx, span := s.start(ctx, OpAuthenticate)
	defer func() { s.finish(span, OpAuthenticate, err) }()

	claims, err := s.tokens.Verify(token)
	if err != nil {
		if IsExpected(err) {
			return nil, err
		}
		return nil, s.internal(ctx, OpAuthenticate, "verify token", err)
	}

	live, err := s.sessions.Exists(ctx, claims.UserID, token)
	if err != nil {
		return nil, s.internal(ctx, OpAuthenticate, "check session", err)
	}
	if !live {
		return nil, oops.Code(CodeSessionRevoked).With("user_id", claims.UserID).Wrap(ErrSessionRevoked)
	}
	return claims, nil
}

// CurrentUser loads the user an authenticated token belongs to.
func (s *Service) CurrentUser(ctx context.Context, claims *Claims) (*User, error) {
	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		return nil, oops.Code(CodeInvalidToken).With("reason", "malformed id claim").Wrap(ErrInvalidToken)
	}
	user, err := s.creds.GetUser(ctx, id)
	if err != nil {
		return nil, s.internal(ctx, "current_user", "get user", err)
	}
	return user, nil
}

// internal wraps an unexpected failure, reports it once, and returns it.
func (s *Service) internal(ctx context.Context, operation, step string, err error) error {
	wrapped := internalError(step, err)
	s.reporter.CaptureError(ctx, wrapped, map[string]string{"operation": operation, "step": step})
	errutil.LogErrorContext(ctx, s.logger, slog.LevelError, operation+" failed", wrapped)
	return wrapped
}

func (s *Service) start(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "auth."+operation, trace.WithAttributes(attribute.String("auth.operation", operation)))
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	defer span.End()
	if err == nil {
		s.metrics.RecordAuthOperation(operation, "success")
		span.SetStatus(codes.Ok, "")
		return
	}
	kind := KindOf(err)
	s.metrics.RecordAuthOperation(operation, kind.String())
	span.SetAttributes(attribute.String("auth.error_kind", kind.String()))
	if !kind.Expected() {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
	}
}

type noopHook struct{}

func (noopHook) UserRegistered(context.Context, *User) {}

type noopReporter struct{}

func (noopReporter) CaptureError(context.Context, error, map[string]string)     {}
func (noopReporter) Breadcrumb(context.Context, string, string, map[string]any) {}

type noopRecorder struct{}

func (noopRecorder) RecordAuthOperation(string, string) {}
