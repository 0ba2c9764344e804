// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

/*
Package identity implements the authentication and session reconciliation core.

Given a raw identity-provider session, it resolves a single canonical user
record (role, display name, password-reset obligation) by probing multiple
record stores in precedence order, applying override rules, and falling back
safely when no record exists — then publishes the outcome as the process-wide
session every protected surface depends on.

# Architecture

This layer is the "Truth" of the system for who is signed in:

  - Resolver: pure decision procedure over the record stores (fail-open).
  - Manager: listens to provider sign-in/out events, serializes resolution,
    and owns the single current-session slot.
  - RecordStore / Provider: abstracted contracts for storage and the external
    identity provider, implemented by the infrastructure files in this package.
*/
package identity

import (
	"time"

	"github.com/kivora/crm/internal/platform/sec"
)

// # Domain Entities

// RawIdentity is the fact the identity provider asserts on sign-in.
// It is immutable per event and carries no decisions.
type RawIdentity struct {
	// ID is the opaque stable identifier, unique per provider account.
	ID string `json:"id"`

	// Email as reported by the provider. May be empty.
	Email string `json:"email"`

	// DisplayName as reported by the provider. Optional.
	DisplayName string `json:"display_name,omitempty"`
}

// UserRecord is a candidate profile found in one of the record stores.
//
// Role fields are free-text as stored: legacy stores encode the role in up to
// three different columns, and none of them is a closed enum. Normalization
// happens in the Resolver, never in storage.
type UserRecord struct {
	// Source names the store this record came from.
	Source StoreName `json:"source"`

	// Role is the primary role column.
	Role string `json:"role,omitempty"`

	// RoleAlias is an alternate column that may also encode the role.
	RoleAlias string `json:"role_alias,omitempty"`

	// UserType is the legacy "tipo" column carried over from the first CRM.
	UserType string `json:"user_type,omitempty"`

	// CompanyName is the client-store display field (customer accounts
	// are companies, not people).
	CompanyName string `json:"company_name,omitempty"`

	DisplayName        string     `json:"display_name,omitempty"`
	Email              string     `json:"email,omitempty"`
	AvatarURL          string     `json:"avatar_url,omitempty"`
	NeedsPasswordReset bool       `json:"needs_password_reset"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

// ResolvedUser is the canonical, role-bearing session object the rest of the
// application depends on.
//
// # Lifecycle
//
// Exactly one ResolvedUser exists per active session. It is rebuilt from
// scratch on every sign-in event (never patched in place) and destroyed on
// sign-out. The only in-place mutation is the narrow password-reset
// acknowledgement, which still replaces the published pointer.
type ResolvedUser struct {
	// ID is copied from the provider identity.
	ID string `json:"id"`

	// Name is the resolved display name. Never empty.
	Name string `json:"name"`

	// Email is the resolved email address.
	Email string `json:"email"`

	// Role is one canonical value from the closed set {admin, staff, client}
	// (legacy pass-through values gate at staff tier, see [sec.Role]).
	Role sec.Role `json:"role"`

	// Source names the record store this profile was assembled from.
	// Empty for synthesized fallback profiles.
	Source StoreName `json:"source,omitempty"`

	AvatarURL          string     `json:"avatar_url,omitempty"`
	NeedsPasswordReset bool       `json:"needs_password_reset"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`

	// LastLoginAt is set at resolution time.
	LastLoginAt time.Time `json:"last_login_at"`
}

// # Field Identifiers

// Global field names for validation and identity mapping in this domain.
const (
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
	FieldAccessToken     = "access_token"
	FieldUser            = "user"
	FieldLoading         = "loading"
)
