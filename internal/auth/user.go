// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Field length limits, matching the column widths in the users table.
const (
	MaxNameLength  = 100
	MaxEmailLength = 254
)

// User is an identity record. It never carries password material.
type User struct {
	ID        ulid.ULID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Credential binds a unique email and password hash to one User.
type Credential struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	UserID       ulid.ULID
	User         *User
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LogValue implements slog.LogValuer and omits the password hash.
func (c *Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID.String()),
		slog.String("email", c.Email),
		slog.String("user_id", c.UserID.String()),
	)
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare RFC 5322 address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeValidation).With("field", "email").Errorf("email is required")
	}
	if len(email) > MaxEmailLength {
		return oops.Code(CodeValidation).With("field", "email").Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code(CodeValidation).With("field", "email").Errorf("email is not a valid address")
	}
	return nil
}

func validateName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return oops.Code(CodeValidation).With("field", field).Errorf("%s is required", field)
	}
	if len(value) > MaxNameLength {
		return oops.Code(CodeValidation).With("field", field).Errorf("%s must be at most %d characters", field, MaxNameLength)
	}
	return nil
}

// NewUser creates a User with a fresh ID. The email is normalised.
func NewUser(firstName, lastName, email string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if err := validateName("firstName", firstName); err != nil {
		return nil, err
	}
	if err := validateName("lastName", lastName); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &User{
		ID:        ulid.Make(),
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewCredential creates the Credential for user with an already computed hash.
func NewCredential(user *User, passwordHash string) (*Credential, error) {
	if user == nil {
		return nil, oops.Errorf("user is required")
	}
	if passwordHash == "" {
		return nil, oops.Errorf("password hash is required")
	}
	return &Credential{
		ID:           ulid.Make(),
		Email:        user.Email,
		PasswordHash: passwordHash,
		UserID:       user.ID,
		User:         user,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, nil
}
