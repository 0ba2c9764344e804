// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package sec

// # User Roles

// Role represents the authorization level granted to a CRM account.
//
// The set is closed at resolution time: every signed-in user carries exactly
// one of these values (legacy free-text roles are normalized by the identity
// resolver before they reach this layer).
type Role string

const (
	// Unrestricted system access (finance, user management)
	RoleAdmin Role = "admin"

	// Default role for internal operators; sees clients, leads, tickets
	RoleStaff Role = "staff"

	// External customer account; sees only its own portal pages
	RoleClient Role = "client"
)

// # Role Hierarchy

// AtLeast checks if the current role meets or exceeds the required target role.
func (r Role) AtLeast(target Role) bool {
	return r.level() >= target.level()
}

// level maps a role to a numeric hierarchy level for comparison logic.
func (r Role) level() int {

	// Linear scale (10-30) allows for future intermediate roles
	switch r {
	case RoleAdmin:
		return 30
	case RoleClient:
		return 10
	default:
		// RoleStaff and any legacy pass-through value gate at staff tier.
		return 20
	}
}
