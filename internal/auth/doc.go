// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package auth implements the credential and session lifecycle.
//
// # Domain Types
//
// A User is the identity record; a Credential binds an email and password
// hash to exactly one User. Both are created together through
// CredentialRepository.Create and are never deleted.
//
// # Components
//
//   - PasswordHasher - salted one-way hashing (bcrypt by default, argon2id optional)
//   - TokenIssuer - signs and verifies HS256 bearer tokens
//   - SessionRegistry - revocable session records keyed by user and token
//   - Service - orchestrates register, login, logout and token authentication
//
// A token is accepted only when its signature verifies, it has not expired
// and its session record still exists. Logout deletes the session record,
// which revokes the token before its natural expiry.
//
// # Errors
//
// Errors carry oops codes. KindOf maps them to a Kind; expected kinds
// (validation, conflict, unauthorized, invalid token) are never reported to
// the error monitor.
package auth
