// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package postgres implements auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// emailIndex is the unique index that guarantees one credential per email.
// It is the authoritative guard against duplicate registration.
const emailIndex = "credentials_email_key"

// CredentialRepository implements auth.CredentialRepository using PostgreSQL.
type CredentialRepository struct {
	pool Pool
	tx   *Transactor
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(pool Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool, tx: NewTransactor(pool)}
}

const selectCredential = `
	SELECT c.id, c.email, c.password_hash, c.user_id, c.created_at, c.updated_at,
	       u.first_name, u.last_name, u.email, u.created_at, u.updated_at
	FROM credentials c
	JOIN users u ON u.id = c.user_id
`

// FindByEmail retrieves a credential and its user by email (case-insensitive).
func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, selectCredential+`WHERE lower(c.email) = lower($1)`, email)

	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_QUERY_FAILED").
			With("operation", "find credential by email").
			With("email", email).
			Wrap(err)
	}
	return cred, nil
}

// Create inserts the user and then the credential in one transaction.
func (r *CredentialRepository) Create(ctx context.Context, user *auth.User, cred *auth.Credential) error {
	return r.tx.InTransaction(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.pool)

		_, err := q.Exec(ctx, `
			INSERT INTO users (id, first_name, last_name, email, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			user.ID.String(),
			user.FirstName,
			user.LastName,
			user.Email,
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			return oops.Code("USER_CREATE_FAILED").
				With("operation", "insert user").
				With("user_id", user.ID.String()).
				Wrap(err)
		}

		_, err = q.Exec(ctx, `
			INSERT INTO credentials (id, email, password_hash, user_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			cred.ID.String(),
			cred.Email,
			cred.PasswordHash,
			cred.UserID.String(),
			cred.CreatedAt,
			cred.UpdatedAt,
		)
		if isUniqueViolation(err, emailIndex) {
			return oops.Code(auth.CodeEmailTaken).
				With("email", cred.Email).
				Wrap(auth.ErrEmailTaken)
		}
		if err != nil {
			return oops.Code("CREDENTIAL_CREATE_FAILED").
				With("operation", "insert credential").
				With("email", cred.Email).
				Wrap(err)
		}
		return nil
	})
}

// GetUser retrieves a user by ID.
func (r *CredentialRepository) GetUser(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id.String())

	var (
		idStr string
		u     auth.User
	)
	err := row.Scan(&idStr, &u.FirstName, &u.LastName, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	if u.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.With("operation", "parse user id").With("id", idStr).Wrap(err)
	}
	return &u, nil
}

// UpdatePasswordHash replaces the stored hash of a credential.
func (r *CredentialRepository) UpdatePasswordHash(ctx context.Context, credentialID ulid.ULID, hash string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE credentials SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, credentialID.String(), hash)
	if err != nil {
		return oops.Code("CREDENTIAL_UPDATE_FAILED").
			With("operation", "update password hash").
			With("credential_id", credentialID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").
			With("credential_id", credentialID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanCredential scans a selectCredential row.
func scanCredential(row pgx.Row) (*auth.Credential, error) {
	var (
		credID, userID string
		c              auth.Credential
		u              auth.User
	)
	err := row.Scan(
		&credID, &c.Email, &c.PasswordHash, &userID, &c.CreatedAt, &c.UpdatedAt,
		&u.FirstName, &u.LastName, &u.Email, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	if c.ID, err = ulid.Parse(credID); err != nil {
		return nil, oops.With("operation", "parse credential id").With("id", credID).Wrap(err)
	}
	if c.UserID, err = ulid.Parse(userID); err != nil {
		return nil, oops.With("operation", "parse user id").With("id", userID).Wrap(err)
	}
	u.ID = c.UserID
	c.User = &u
	return &c, nil
}

// isUniqueViolation reports whether err is a unique violation on constraint.
// An empty constraint matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == "" || pgErr.ConstraintName == constraint
}

var _ auth.CredentialRepository = (*CredentialRepository)(nil)
