// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// # PostgreSQL Record Store

// PostgresRecordStore implements [RecordStore] over the three identity
// tables. Each named store maps to its own table with its own column shape;
// rows are keyed by the provider identity ID.
//
// # err Mapping
//
// pgx.ErrNoRows is mapped to [ErrRecordNotFound] so the resolver never sees
// a storage implementation detail.
type PostgresRecordStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRecordStore creates the PostgreSQL implementation of [RecordStore].
func NewPostgresRecordStore(pool *pgxpool.Pool) *PostgresRecordStore {
	return &PostgresRecordStore{pool: pool}
}

/*
Get returns the record stored under key in the named store.

Description: Dispatches to the table backing the store. The client store has
a different shape (companies, not people), so it is scanned separately.

Parameters:
  - context: context.Context
  - store: StoreName
  - key: string

Returns:
  - *UserRecord: Hydrated record with Source set
  - error: ErrRecordNotFound, unknown store, or database errors
*/
func (repository *PostgresRecordStore) Get(context context.Context, store StoreName, key string) (*UserRecord, error) {
	switch store {
	case StorePrimary, StoreLegacy:
		return repository.getStaff(context, store, key)
	case StoreClients:
		return repository.getClient(context, key)
	}
	return nil, fmt.Errorf("postgres_record_store: unknown store %q", store)
}

// getStaff reads from identity.staff_account or identity.legacy_account.
// Both tables share the staff column shape.
func (repository *PostgresRecordStore) getStaff(context context.Context, store StoreName, key string) (*UserRecord, error) {
	query := fmt.Sprintf(`
		SELECT role, role_alias, user_type, display_name, email, avatar_url, needs_password_reset, created_at
		FROM identity.%s
		WHERE id = $1`, store)

	record := &UserRecord{Source: store}
	err := repository.pool.QueryRow(context, query, key).Scan(
		&record.Role,
		&record.RoleAlias,
		&record.UserType,
		&record.DisplayName,
		&record.Email,
		&record.AvatarURL,
		&record.NeedsPasswordReset,
		&record.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("postgres_record_store_get_failed: %w", err)
	}

	return record, nil
}

// getClient reads from identity.client_account (company-shaped rows).
func (repository *PostgresRecordStore) getClient(context context.Context, key string) (*UserRecord, error) {
	const query = `
		SELECT company_name, contact_email, avatar_url, needs_password_reset, created_at
		FROM identity.client_account
		WHERE id = $1`

	record := &UserRecord{Source: StoreClients}
	err := repository.pool.QueryRow(context, query, key).Scan(
		&record.CompanyName,
		&record.Email,
		&record.AvatarURL,
		&record.NeedsPasswordReset,
		&record.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("postgres_record_store_get_client_failed: %w", err)
	}

	return record, nil
}

/*
Put applies a partial update to the record stored under key.

Description: Only the fields present in the patch are written. An UPDATE
matching zero rows is reported as ErrRecordNotFound so best-effort callers
can log it accurately.

Parameters:
  - context: context.Context
  - store: StoreName
  - key: string
  - patch: RecordPatch

Returns:
  - error: ErrRecordNotFound, unknown store, or database errors
*/
func (repository *PostgresRecordStore) Put(context context.Context, store StoreName, key string, patch RecordPatch) error {
	switch store {
	case StorePrimary, StoreLegacy, StoreClients:
	default:
		return fmt.Errorf("postgres_record_store: unknown store %q", store)
	}

	// Nothing to write — treat as a successful no-op.
	if patch.LastLoginAt == nil && patch.NeedsPasswordReset == nil {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE identity.%s
		SET last_login_at = COALESCE($2, last_login_at),
		    needs_password_reset = COALESCE($3, needs_password_reset)
		WHERE id = $1`, store)

	tag, err := repository.pool.Exec(context, query, key, patch.LastLoginAt, patch.NeedsPasswordReset)
	if err != nil {
		return fmt.Errorf("postgres_record_store_put_failed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}

	return nil
}
