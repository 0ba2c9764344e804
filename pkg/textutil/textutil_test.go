// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package textutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kivora/crm/pkg/textutil"
)

/*
TestCleanName verifies the Unicode normalization pipeline for display names.
*/
func TestCleanName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Maria Lopez", "Maria Lopez"},
		{"padded", "  Maria Lopez  ", "Maria Lopez"},
		{"collapses_whitespace", "Maria \t Lopez", "Maria Lopez"},
		{"composes_accents", "Jose\u0301", "Jos\u00e9"},
		{"strips_control_runes", "Acme\u0007 Corp", "Acme Corp"},
		{"empty", "", ""},
		{"whitespace_only", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, textutil.CleanName(tt.input))
		})
	}
}

/*
TestLocalPart verifies extraction of the email local part.
*/
func TestLocalPart(t *testing.T) {
	assert.Equal(t, "x", textutil.LocalPart("x@y.com"))
	assert.Equal(t, "no-at-sign", textutil.LocalPart("no-at-sign"))
	assert.Equal(t, "", textutil.LocalPart("@domain.only"))
}
