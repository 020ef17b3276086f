// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes attached to oops errors produced by this package and its adapters.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeTokenExpired       = "AUTH_TOKEN_EXPIRED"
	CodeSessionRevoked     = "AUTH_SESSION_REVOKED"
	CodeHashMalformed      = "AUTH_HASH_MALFORMED"
	CodeWeakSecret         = "AUTH_WEAK_SECRET"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeInternal           = "AUTH_INTERNAL"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned when a credential already exists for an email.
	ErrEmailTaken = errors.New("email already in use")

	// ErrInvalidCredentials is returned for both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when a bearer token cannot be accepted.
	ErrInvalidToken = errors.New("invalid token")
)

// Kind classifies an error for transport mapping and monitoring.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindInvalidToken
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidToken:
		return "invalid_token"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Expected reports whether errors of this kind are part of normal operation.
// Expected errors are returned to callers but never sent to the error monitor.
func (k Kind) Expected() bool {
	switch k {
	case KindValidation, KindConflict, KindUnauthorized, KindInvalidToken:
		return true
	default:
		return false
	}
}

var kindByCode = map[string]Kind{
	CodeValidation:         KindValidation,
	CodeEmailTaken:         KindConflict,
	CodeInvalidCredentials: KindUnauthorized,
	CodeInvalidToken:       KindInvalidToken,
	CodeTokenExpired:       KindInvalidToken,
	CodeSessionRevoked:     KindInvalidToken,
	CodeHashMalformed:      KindConfiguration,
	CodeWeakSecret:         KindConfiguration,
	CodeConfigInvalid:      KindConfiguration,
}

// KindOf classifies err. Anything without a recognised code is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindInternal
	}
	return kindOfCode(oopsErr.Code())
}

func kindOfCode(code any) Kind {
	s, _ := code.(string)
	if kind, found := kindByCode[s]; found {
		return kind
	}
	return KindInternal
}

// IsExpected reports whether err is an expected, non-reportable failure.
func IsExpected(err error) bool {
	return err != nil && KindOf(err).Expected()
}

func emailTakenError(email string) error {
	return oops.Code(CodeEmailTaken).With("email", email).Wrap(ErrEmailTaken)
}

func invalidCredentialsError() error {
	return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
}

func internalError(operation string, err error) error {
	return oops.Code(CodeInternal).With("operation", operation).Wrap(err)
}
