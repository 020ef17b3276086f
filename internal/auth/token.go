// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
	"github.com/xhit/go-str2duration/v2"
)

// MinSecretLength is the minimum HS256 signing secret length in bytes.
const MinSecretLength = 32

// DefaultTokenLifetime is used when no lifetime is configured.
const DefaultTokenLifetime = "1d"

var (
	// ErrTokenExpired is returned when a token's exp claim has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionRevoked is returned when a token verifies but its session is gone.
	ErrSessionRevoked = errors.New("session revoked")
)

// Claims is the payload of an issued token.
type Claims struct {
	UserID    string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	jwt.RegisteredClaims
}

// ClaimsForUser builds the identity claims for user.
func ClaimsForUser(user *User) Claims {
	return Claims{
		UserID:    user.ID.String(),
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}

// TokenIssuer signs and verifies bearer tokens.
type TokenIssuer interface {
	// Issue signs claims, stamping iat and exp.
	Issue(claims Claims) (string, error)

	// Verify checks the signature and expiry and returns the claims.
	// It does not consult the session registry.
	Verify(token string) (*Claims, error)
}

// ParseLifetime parses a token lifetime such as "1d", "12h" or "90m".
// A bare integer is read as seconds.
func ParseLifetime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultTokenLifetime
	}

	var (
		d   time.Duration
		err error
	)
	if secs, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
		d = time.Duration(secs) * time.Second
	} else {
		d, err = str2duration.ParseDuration(s)
		if err != nil {
			return 0, oops.Code(CodeConfigInvalid).With("lifetime", s).Wrap(err)
		}
	}
	if d <= 0 {
		return 0, oops.Code(CodeConfigInvalid).With("lifetime", s).Errorf("token lifetime must be positive")
	}
	return d, nil
}

// IssuerOption configures a JWTIssuer.
type IssuerOption func(*JWTIssuer)

// WithClock overrides the time source used for iat, exp and verification.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *JWTIssuer) {
		i.now = now
	}
}

// WithIssuer sets the iss claim on issued tokens and requires it on verification.
func WithIssuer(issuer string) IssuerOption {
	return func(i *JWTIssuer) {
		i.issuer = issuer
	}
}

// JWTIssuer implements TokenIssuer with HS256 JSON Web Tokens.
type JWTIssuer struct {
	secret   []byte
	lifetime time.Duration
	issuer   string
	now      func() time.Time
	parser   *jwt.Parser
}

// NewJWTIssuer creates a JWTIssuer. The secret is process-wide and loaded once.
func NewJWTIssuer(secret string, lifetime time.Duration, opts ...IssuerOption) (*JWTIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code(CodeWeakSecret).
			With("length", len(secret)).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if lifetime <= 0 {
		return nil, oops.Code(CodeConfigInvalid).Errorf("token lifetime must be positive")
	}

	i := &JWTIssuer{
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(i.issuer))
	}
	i.parser = jwt.NewParser(parserOpts...)

	return i, nil
}

// Lifetime returns the configured token lifetime.
func (i *JWTIssuer) Lifetime() time.Duration {
	return i.lifetime
}

// Issue signs claims with HS256.
func (i *JWTIssuer) Issue(claims Claims) (string, error) {
	if claims.UserID == "" {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Errorf("claims must carry a user id")
	}

	now := i.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.lifetime))
	if i.issuer != "" {
		claims.Issuer = i.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify parses token and checks signature, algorithm and expiry.
func (i *JWTIssuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, oops.Code(CodeInvalidToken).Wrap(ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := i.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, oops.Code(CodeTokenExpired).Wrap(ErrTokenExpired)
	}
	if err != nil {
		return nil, oops.Code(CodeInvalidToken).With("reason", err.Error()).Wrap(ErrInvalidToken)
	}
	if claims.UserID == "" {
		return nil, oops.Code(CodeInvalidToken).With("reason", "missing id claim").Wrap(ErrInvalidToken)
	}
	return claims, nil
}

var _ TokenIssuer = (*JWTIssuer)(nil)
