// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	"context"
	"errors"
	"time"
)

// # Record Store Contract

// StoreName identifies one of the fixed record stores holding profile data.
type StoreName string

const (
	// StorePrimary holds current staff accounts.
	StorePrimary StoreName = "staff_account"

	// StoreLegacy holds accounts migrated from the previous CRM, kept
	// read-mostly until the backfill completes.
	StoreLegacy StoreName = "legacy_account"

	// StoreClients holds external customer accounts. Structurally distinct:
	// rows are companies with a contact email, not people.
	StoreClients StoreName = "client_account"
)

// StaffStores lists the staff-profile stores in precedence order. The
// resolver consults them first; StoreClients is only probed when neither
// yields a record.
var StaffStores = []StoreName{StorePrimary, StoreLegacy}

// ErrRecordNotFound is returned by [RecordStore.Get] when no record exists
// under the given key. It is the only Get error the resolver distinguishes;
// every other failure is treated the same way (soft, logged, not-found).
var ErrRecordNotFound = errors.New("identity: record not found")

// RecordPatch carries the narrow set of fields the core ever writes back.
// Nil fields are left untouched.
type RecordPatch struct {
	LastLoginAt        *time.Time
	NeedsPasswordReset *bool
}

// RecordStore is the uniform get/put capability over the named stores.
//
// Implementations must map their native "no rows" condition to
// [ErrRecordNotFound] and are expected to be safe for concurrent use.
type RecordStore interface {

	/*
		Get returns the record stored under key in the named store.

		Parameters:
		  - context: context.Context
		  - store: StoreName
		  - key: string (provider identity ID)

		Returns:
		  - *UserRecord: Hydrated record with Source set to the store name
		  - error: ErrRecordNotFound, or retrieval failures
	*/
	Get(context context.Context, store StoreName, key string) (*UserRecord, error)

	/*
		Put applies a partial update to the record stored under key.

		Parameters:
		  - context: context.Context
		  - store: StoreName
		  - key: string
		  - patch: RecordPatch (nil fields are skipped)

		Returns:
		  - error: Persistence failures
	*/
	Put(context context.Context, store StoreName, key string, patch RecordPatch) error
}
