// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kivora/crm/internal/platform/sec"
	"github.com/kivora/crm/pkg/textutil"
)

// # Resolution Constants

const (
	// defaultLookupTimeout bounds each individual record-store read. A store
	// that cannot answer in time is treated as not-found, never as fatal.
	defaultLookupTimeout = 3 * time.Second

	// fallbackDisplayName is the terminal value of the name fallback chain.
	fallbackDisplayName = "User"

	// overrideDisplayName is assigned to allow-listed administrator sessions,
	// which short-circuit before any store is consulted.
	overrideDisplayName = "Administrator"
)

// Role-designating values as they appear in stored data. The legacy stores
// were written by two generations of the dashboard and a CSV import, so the
// same role hides behind several spellings.
const (
	roleValueAdmin      = "admin"
	roleValueClient     = "client"
	roleValueClientAlt  = "cliente"
	roleValueStaffAlias = "user"
)

// # Resolver

// Resolver turns a raw provider identity into the canonical [ResolvedUser].
//
// # Fail-Open Contract
//
// Resolve never fails: a legitimately authenticated identity must not be
// locked out of the dashboard because a profile lookup failed or is
// incomplete. The cost of a degraded lookup is visible only as the
// lowest-privilege staff role, never as an error.
type Resolver struct {
	store         RecordStore
	adminEmails   map[string]struct{}
	lookupTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// ResolverOption customizes a [Resolver].
type ResolverOption func(*Resolver)

// WithLookupTimeout overrides the per-store read deadline.
func WithLookupTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) { r.lookupTimeout = timeout }
}

// WithClock injects the time source. Tests use this to freeze LastLoginAt.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithResolverLogger injects the structured logger for soft-error reporting.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver constructs a [Resolver] over the given record store.
//
// adminEmails is the operator override allow-list: identities whose email
// appears here always resolve as administrators, regardless of store content
// or store availability. It is injected configuration, never hard-coded.
func NewResolver(store RecordStore, adminEmails []string, options ...ResolverOption) *Resolver {
	resolver := &Resolver{
		store:         store,
		adminEmails:   make(map[string]struct{}, len(adminEmails)),
		lookupTimeout: defaultLookupTimeout,
		now:           time.Now,
		logger:        slog.Default(),
	}

	for _, email := range adminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			resolver.adminEmails[email] = struct{}{}
		}
	}

	for _, option := range options {
		option(resolver)
	}

	return resolver
}

/*
Resolve produces the canonical user for a provider identity.

Description: Executes the resolution procedure — administrator override,
primary store, legacy store, client store, synthesized fallback — and always
returns a usable user. Store failures are logged and treated as not-found.

Parameters:
  - context: context.Context
  - identity: RawIdentity (immutable provider fact)

Returns:
  - *ResolvedUser: Never nil
*/
func (resolver *Resolver) Resolve(context context.Context, identity RawIdentity) *ResolvedUser {
	resolvedAt := resolver.now()

	// ── 1. Administrator override ─────────────────────────────────────────
	// Operational safety valve: at least one operator can always reach full
	// access regardless of record-store state.
	if resolver.isOverride(identity.Email) {
		return &ResolvedUser{
			ID:          identity.ID,
			Name:        overrideDisplayName,
			Email:       identity.Email,
			Role:        sec.RoleAdmin,
			LastLoginAt: resolvedAt,
		}
	}

	// ── 2+3. Staff stores in precedence order ─────────────────────────────
	for _, store := range StaffStores {
		record := resolver.lookup(context, store, identity.ID)
		if record == nil {
			continue
		}

		user := &ResolvedUser{
			ID:                 identity.ID,
			Name:               resolver.resolveName(record.DisplayName, identity),
			Email:              resolver.resolveEmail(record.Email, identity),
			Role:               resolver.roleFromRecord(record),
			Source:             record.Source,
			AvatarURL:          record.AvatarURL,
			NeedsPasswordReset: record.NeedsPasswordReset,
			CreatedAt:          record.CreatedAt,
			LastLoginAt:        resolvedAt,
		}

		resolver.touchLastLogin(context, record.Source, identity.ID, resolvedAt)
		return user
	}

	// ── 5. Client store ───────────────────────────────────────────────────
	// Customer accounts live in a structurally distinct store; a hit here
	// always maps to the client role.
	if record := resolver.lookup(context, StoreClients, identity.ID); record != nil {
		user := &ResolvedUser{
			ID:                 identity.ID,
			Name:               resolver.resolveName(record.CompanyName, identity),
			Email:              resolver.resolveEmail(record.Email, identity),
			Role:               sec.RoleClient,
			Source:             record.Source,
			AvatarURL:          record.AvatarURL,
			NeedsPasswordReset: record.NeedsPasswordReset,
			CreatedAt:          record.CreatedAt,
			LastLoginAt:        resolvedAt,
		}

		resolver.touchLastLogin(context, record.Source, identity.ID, resolvedAt)
		return user
	}

	// ── 6. Synthesized fallback profile ───────────────────────────────────
	// No record anywhere is not an error. The override is re-checked as a
	// safety net; everyone else signs in at the lowest-privilege staff tier.
	role := sec.RoleStaff
	if resolver.isOverride(identity.Email) {
		role = sec.RoleAdmin
	}

	return &ResolvedUser{
		ID:          identity.ID,
		Name:        resolver.resolveName("", identity),
		Email:       identity.Email,
		Role:        role,
		LastLoginAt: resolvedAt,
	}
}

// # Role Determination

// roleFromRecord normalizes the free-text role columns of a record into one
// canonical role.
//
// Precedence is fixed: an admin-designating value in ANY role-bearing column
// wins over every other signal — a record inconsistently tagged both admin
// and client resolves to admin, never client, never an error. Client
// synonyms are honored only on the primary column. Unknown non-empty values
// pass through literally (the dashboard displays them; gating treats them as
// staff tier).
func (resolver *Resolver) roleFromRecord(record *UserRecord) sec.Role {
	if isAdminValue(record.Role) || isAdminValue(record.RoleAlias) || isAdminValue(record.UserType) {
		return sec.RoleAdmin
	}

	primary := normalizeRoleValue(record.Role)
	switch primary {
	case roleValueClient, roleValueClientAlt:
		return sec.RoleClient
	case "", roleValueStaffAlias, string(sec.RoleStaff):
		return sec.RoleStaff
	}

	// Literal pass-through for values outside the known vocabulary.
	return sec.Role(strings.TrimSpace(record.Role))
}

// isAdminValue reports whether a stored role column designates an administrator.
func isAdminValue(value string) bool {
	return normalizeRoleValue(value) == roleValueAdmin
}

// normalizeRoleValue canonicalizes a stored role column for comparison.
func normalizeRoleValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// # Name & Email Fallback

// resolveName runs the display-name fallback chain: stored name → provider
// display name → email local part → "User". Every candidate is normalized
// before use so a whitespace-only stored name falls through.
func (resolver *Resolver) resolveName(storedName string, identity RawIdentity) string {
	if name := textutil.CleanName(storedName); name != "" {
		return name
	}
	if name := textutil.CleanName(identity.DisplayName); name != "" {
		return name
	}
	if local := textutil.CleanName(textutil.LocalPart(identity.Email)); local != "" {
		return local
	}
	return fallbackDisplayName
}

// resolveEmail prefers the stored email, falling back to the provider's.
func (resolver *Resolver) resolveEmail(storedEmail string, identity RawIdentity) string {
	if email := strings.TrimSpace(storedEmail); email != "" {
		return email
	}
	return identity.Email
}

// # Store Access (fail-open)

// isOverride reports whether the email is on the administrator allow-list.
func (resolver *Resolver) isOverride(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	_, ok := resolver.adminEmails[email]
	return ok
}

// lookup reads one record from one store, swallowing every failure.
// Unavailability, timeout, and genuine not-found all collapse into nil —
// the precedence walk simply continues to the next store.
func (resolver *Resolver) lookup(parent context.Context, store StoreName, key string) *UserRecord {
	lookupCtx, cancel := context.WithTimeout(parent, resolver.lookupTimeout)
	defer cancel()

	record, err := resolver.store.Get(lookupCtx, store, key)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			resolver.logger.Warn("identity_store_lookup_failed",
				slog.String("store", string(store)),
				slog.String("key", key),
				slog.Any("error", err),
			)
		}
		return nil
	}

	return record
}

// touchLastLogin best-effort persists the login timestamp to the store the
// record came from. Failure is logged and never raised: a write problem must
// not fail or roll back an otherwise-successful resolution.
func (resolver *Resolver) touchLastLogin(parent context.Context, store StoreName, key string, loginAt time.Time) {
	writeCtx, cancel := context.WithTimeout(parent, resolver.lookupTimeout)
	defer cancel()

	if err := resolver.store.Put(writeCtx, store, key, RecordPatch{LastLoginAt: &loginAt}); err != nil {
		resolver.logger.Warn("identity_last_login_write_failed",
			slog.String("store", string(store)),
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}
