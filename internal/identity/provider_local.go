// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kivora/crm/internal/platform/apperr"
	"github.com/kivora/crm/internal/platform/sec"
)

// eventBuffer sizes the provider event channel. Sign-in/out events are rare
// (human-paced); the buffer only absorbs a burst while the listener catches up.
const eventBuffer = 16

// # Local Identity Provider

// LocalProvider implements [Provider] against the identity.credential table.
//
// It owns exactly what an external identity provider would: credential
// verification and the sign-in/out event stream. Profile and role data live
// in the record stores, not here.
type LocalProvider struct {
	pool   *pgxpool.Pool
	events chan *RawIdentity
}

// NewLocalProvider creates a credential-backed [Provider].
func NewLocalProvider(pool *pgxpool.Pool) *LocalProvider {
	return &LocalProvider{
		pool:   pool,
		events: make(chan *RawIdentity, eventBuffer),
	}
}

/*
SignInWithPassword verifies the email/password pair and emits the sign-in event.

Description: Performs a constant-time bcrypt comparison and, on success,
asserts the identity on the event stream. The distinguished sentinel errors
let the delivery layer show accurate messages without leaking which part of
the credential failed to logs shared with third parties.

Parameters:
  - context: context.Context
  - email: string
  - password: string

Returns:
  - error: ErrUserNotFound, ErrWrongPassword, or database errors
*/
func (provider *LocalProvider) SignInWithPassword(context context.Context, email, password string) error {
	const query = `
		SELECT id, password_hash, display_name
		FROM identity.credential
		WHERE lower(email) = lower($1)`

	var (
		id           string
		passwordHash string
		displayName  string
	)

	err := provider.pool.QueryRow(context, query, email).Scan(&id, &passwordHash, &displayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("local_provider_sign_in_failed: %w", err)
	}

	// Constant-time comparison via bcrypt to prevent timing attacks
	if !sec.CheckPasswordHash(password, passwordHash) {
		return ErrWrongPassword
	}

	provider.emit(&RawIdentity{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
	})

	return nil
}

/*
SignOut emits the signed-out event.

Parameters:
  - context: context.Context

Returns:
  - error: Always nil for the local provider
*/
func (provider *LocalProvider) SignOut(context context.Context) error {
	provider.emit(nil)
	return nil
}

// Events returns the sign-in/out stream consumed by the session [Manager].
func (provider *LocalProvider) Events() <-chan *RawIdentity {
	return provider.events
}

// Close closes the event stream, which terminates the listener's Run loop.
func (provider *LocalProvider) Close() {
	close(provider.events)
}

// emit delivers an event to the stream.
func (provider *LocalProvider) emit(identity *RawIdentity) {
	provider.events <- identity
}

// # Credential Management

/*
UpdatePassword rotates a credential after verifying the current password.

Description: This is the explicit password update of the forced-reset flow;
unlike everything inside the resolution pipeline, its errors DO propagate to
the caller.

Parameters:
  - context: context.Context
  - userID: string
  - currentPassword: string
  - newPassword: string

Returns:
  - error: apperr.Unauthorized on a wrong current password, or storage failures
*/
func (provider *LocalProvider) UpdatePassword(context context.Context, userID, currentPassword, newPassword string) error {
	const selectQuery = `
		SELECT password_hash
		FROM identity.credential
		WHERE id = $1`

	var passwordHash string
	err := provider.pool.QueryRow(context, selectQuery, userID).Scan(&passwordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Unauthorized("Account credentials no longer exist")
		}
		return fmt.Errorf("local_provider_update_password_lookup_failed: %w", err)
	}

	// Verify the current password before allowing the change
	if !sec.CheckPasswordHash(currentPassword, passwordHash) {
		return apperr.Unauthorized("Current password is incorrect")
	}

	newHash, err := sec.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("local_provider_update_password_hash_failed: %w", err)
	}

	const updateQuery = `
		UPDATE identity.credential
		SET password_hash = $2, updated_at = now()
		WHERE id = $1`

	if _, err := provider.pool.Exec(context, updateQuery, userID, newHash); err != nil {
		return fmt.Errorf("local_provider_update_password_failed: %w", err)
	}

	return nil
}
