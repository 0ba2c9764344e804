// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivora/crm/internal/platform/sec"
)

// fakeRecordStore is an in-memory [RecordStore] with injectable failures and
// per-store read delays.
type fakeRecordStore struct {
	mu        sync.Mutex
	records   map[StoreName]map[string]*UserRecord
	getErrs   map[StoreName]error
	delays    map[StoreName]time.Duration
	keyDelays map[string]time.Duration
	putErr    error
	puts      []recordedPut
}

type recordedPut struct {
	Store StoreName
	Key   string
	Patch RecordPatch
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		records:   map[StoreName]map[string]*UserRecord{},
		getErrs:   map[StoreName]error{},
		delays:    map[StoreName]time.Duration{},
		keyDelays: map[string]time.Duration{},
	}
}

func (store *fakeRecordStore) put(name StoreName, key string, record *UserRecord) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.records[name] == nil {
		store.records[name] = map[string]*UserRecord{}
	}
	record.Source = name
	store.records[name][key] = record
}

func (store *fakeRecordStore) Get(ctx context.Context, name StoreName, key string) (*UserRecord, error) {
	store.mu.Lock()
	delay := store.delays[name] + store.keyDelays[key]
	failure := store.getErrs[name]
	record := store.records[name][key]
	store.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	if record == nil {
		return nil, ErrRecordNotFound
	}

	copied := *record
	return &copied, nil
}

func (store *fakeRecordStore) Put(ctx context.Context, name StoreName, key string, patch RecordPatch) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.putErr != nil {
		return store.putErr
	}
	store.puts = append(store.puts, recordedPut{Store: name, Key: key, Patch: patch})
	return nil
}

func (store *fakeRecordStore) recordedPuts() []recordedPut {
	store.mu.Lock()
	defer store.mu.Unlock()
	return append([]recordedPut(nil), store.puts...)
}

// frozenClock returns a clock function pinned to a fixed instant.
func frozenClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestResolver_AdminOverrideWinsOverStores(t *testing.T) {
	store := newFakeRecordStore()

	// Even a client-store record must not demote an allow-listed operator.
	store.put(StoreClients, "u1", &UserRecord{CompanyName: "Acme", Email: "ops@kivora.app"})

	resolver := NewResolver(store, []string{"OPS@kivora.app "})
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "ops@kivora.app"})

	require.NotNil(t, user)
	assert.Equal(t, sec.RoleAdmin, user.Role)
	assert.Equal(t, "Administrator", user.Name)
	assert.Empty(t, user.Source)

	// The override short-circuits before any store read, so no write-back.
	assert.Empty(t, store.recordedPuts())
}

func TestResolver_RoleDetermination(t *testing.T) {
	testCases := []struct {
		name     string
		record   *UserRecord
		expected sec.Role
	}{
		{"admin_primary_column", &UserRecord{Role: "admin"}, sec.RoleAdmin},
		{"admin_alias_column", &UserRecord{Role: "staff", RoleAlias: "Admin"}, sec.RoleAdmin},
		{"admin_legacy_type_column", &UserRecord{Role: "client", UserType: "ADMIN"}, sec.RoleAdmin},
		{"client_primary", &UserRecord{Role: "client"}, sec.RoleClient},
		{"client_spanish_synonym", &UserRecord{Role: "Cliente"}, sec.RoleClient},
		{"empty_defaults_to_staff", &UserRecord{}, sec.RoleStaff},
		{"legacy_user_defaults_to_staff", &UserRecord{Role: "user"}, sec.RoleStaff},
		{"staff_literal", &UserRecord{Role: "staff"}, sec.RoleStaff},
		{"unknown_passes_through", &UserRecord{Role: "auditor"}, sec.Role("auditor")},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			store := newFakeRecordStore()
			store.put(StorePrimary, "u1", testCase.record)

			resolver := NewResolver(store, nil)
			user := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "a@b.co"})

			assert.Equal(t, testCase.expected, user.Role)
		})
	}
}

func TestResolver_StorePrecedence(t *testing.T) {
	store := newFakeRecordStore()
	store.put(StorePrimary, "u1", &UserRecord{Role: "admin", DisplayName: "Primary"})
	store.put(StoreLegacy, "u1", &UserRecord{Role: "client", DisplayName: "Legacy"})

	resolver := NewResolver(store, nil)
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "a@b.co"})

	// The primary store wins; the legacy record is never consulted.
	assert.Equal(t, "Primary", user.Name)
	assert.Equal(t, StorePrimary, user.Source)
}

func TestResolver_LegacyRecordUsedWhenPrimaryMisses(t *testing.T) {
	store := newFakeRecordStore()
	store.put(StoreLegacy, "u2", &UserRecord{Role: "user", DisplayName: "Old Timer"})

	resolver := NewResolver(store, nil)
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u2", Email: "old@b.co"})

	assert.Equal(t, sec.RoleStaff, user.Role)
	assert.Equal(t, "Old Timer", user.Name)
	assert.Equal(t, StoreLegacy, user.Source)
}

func TestResolver_LegacyRecordWithoutNameFallsBackToLocalPart(t *testing.T) {
	store := newFakeRecordStore()
	store.put(StoreLegacy, "u2", &UserRecord{Role: "user"})

	resolver := NewResolver(store, nil)
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u2", Email: "x@y.com"})

	assert.Equal(t, sec.RoleStaff, user.Role)
	assert.Equal(t, "x", user.Name)
}

func TestResolver_ClientRecordMapsToClientRole(t *testing.T) {
	store := newFakeRecordStore()
	store.put(StoreClients, "u3", &UserRecord{CompanyName: "Acme", Email: "billing@acme.co"})

	resolver := NewResolver(store, nil)
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u3", Email: "u3@provider.co"})

	assert.Equal(t, sec.RoleClient, user.Role)
	assert.Equal(t, "Acme", user.Name)
	assert.Equal(t, "billing@acme.co", user.Email)
	assert.Equal(t, StoreClients, user.Source)
}

func TestResolver_FallbackProfile(t *testing.T) {
	store := newFakeRecordStore()

	resolver := NewResolver(store, nil)
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u9", Email: "x@y.co"})

	require.NotNil(t, user)
	assert.Equal(t, sec.RoleStaff, user.Role)
	assert.Equal(t, "x", user.Name) // email local part
	assert.Equal(t, "x@y.co", user.Email)
	assert.Empty(t, user.Source)
	assert.False(t, user.NeedsPasswordReset)
}

func TestResolver_FallbackNameChain(t *testing.T) {
	testCases := []struct {
		name     string
		stored   string
		identity RawIdentity
		expected string
	}{
		{"stored_name_wins", "Maya Chen", RawIdentity{ID: "u1", Email: "a@b.co", DisplayName: "Provider"}, "Maya Chen"},
		{"whitespace_stored_falls_through", "   ", RawIdentity{ID: "u1", Email: "a@b.co", DisplayName: "Provider"}, "Provider"},
		{"provider_then_local_part", "", RawIdentity{ID: "u1", Email: "maya@b.co"}, "maya"},
		{"terminal_constant", "", RawIdentity{ID: "u1"}, "User"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			store := newFakeRecordStore()
			store.put(StorePrimary, testCase.identity.ID, &UserRecord{DisplayName: testCase.stored})

			resolver := NewResolver(store, nil)
			user := resolver.Resolve(context.Background(), testCase.identity)

			assert.Equal(t, testCase.expected, user.Name)
		})
	}
}

func TestResolver_StoreFailureIsSoft(t *testing.T) {
	store := newFakeRecordStore()
	store.getErrs[StorePrimary] = errors.New("connection refused")
	store.put(StoreLegacy, "u1", &UserRecord{DisplayName: "Survivor"})

	resolver := NewResolver(store, nil)
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "a@b.co"})

	// A failing store is treated as not-found; the walk continues.
	require.NotNil(t, user)
	assert.Equal(t, "Survivor", user.Name)
	assert.Equal(t, StoreLegacy, user.Source)
}

func TestResolver_AllStoresFailingStillResolves(t *testing.T) {
	store := newFakeRecordStore()
	failure := errors.New("database down")
	store.getErrs[StorePrimary] = failure
	store.getErrs[StoreLegacy] = failure
	store.getErrs[StoreClients] = failure

	resolver := NewResolver(store, nil)
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "a@b.co"})

	require.NotNil(t, user)
	assert.Equal(t, sec.RoleStaff, user.Role)
}

func TestResolver_SlowStoreIsSkipped(t *testing.T) {
	store := newFakeRecordStore()
	store.delays[StorePrimary] = 200 * time.Millisecond
	store.put(StoreLegacy, "u1", &UserRecord{DisplayName: "Fast"})

	resolver := NewResolver(store, nil, WithLookupTimeout(20*time.Millisecond))
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "a@b.co"})

	assert.Equal(t, "Fast", user.Name)
}

func TestResolver_LastLoginWriteBack(t *testing.T) {
	resolvedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	store := newFakeRecordStore()
	store.put(StorePrimary, "u1", &UserRecord{DisplayName: "Maya"})

	resolver := NewResolver(store, nil, WithClock(frozenClock(resolvedAt)))
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "a@b.co"})

	assert.Equal(t, resolvedAt, user.LastLoginAt)

	puts := store.recordedPuts()
	require.Len(t, puts, 1)
	assert.Equal(t, StorePrimary, puts[0].Store)
	assert.Equal(t, "u1", puts[0].Key)
	require.NotNil(t, puts[0].Patch.LastLoginAt)
	assert.Equal(t, resolvedAt, *puts[0].Patch.LastLoginAt)
}

func TestResolver_WriteBackFailureIsSwallowed(t *testing.T) {
	store := newFakeRecordStore()
	store.put(StorePrimary, "u1", &UserRecord{DisplayName: "Maya"})
	store.putErr = errors.New("read-only replica")

	resolver := NewResolver(store, nil)
	user := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "a@b.co"})

	require.NotNil(t, user)
	assert.Equal(t, "Maya", user.Name)
}

func TestResolver_Deterministic(t *testing.T) {
	resolvedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	store := newFakeRecordStore()
	store.put(StorePrimary, "u1", &UserRecord{Role: "admin", DisplayName: "Maya", Email: "maya@kivora.app"})

	resolver := NewResolver(store, nil, WithClock(frozenClock(resolvedAt)))

	first := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "a@b.co"})
	second := resolver.Resolve(context.Background(), RawIdentity{ID: "u1", Email: "a@b.co"})

	// Same inputs, same snapshot of the stores, same outcome.
	assert.Equal(t, first, second)
}
