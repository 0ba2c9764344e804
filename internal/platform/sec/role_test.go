// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package sec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_AtLeast(t *testing.T) {
	testCases := []struct {
		name     string
		role     Role
		required Role
		expected bool
	}{
		{"admin_meets_admin", RoleAdmin, RoleAdmin, true},
		{"admin_meets_staff", RoleAdmin, RoleStaff, true},
		{"staff_meets_staff", RoleStaff, RoleStaff, true},
		{"staff_below_admin", RoleStaff, RoleAdmin, false},
		{"client_below_staff", RoleClient, RoleStaff, false},
		{"client_meets_client", RoleClient, RoleClient, true},
		// Values outside the canonical set gate at the staff tier.
		{"unknown_meets_staff", Role("auditor"), RoleStaff, true},
		{"unknown_below_admin", Role("auditor"), RoleAdmin, false},
		{"unknown_meets_client", Role("auditor"), RoleClient, true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, testCase.role.AtLeast(testCase.required))
		})
	}
}
