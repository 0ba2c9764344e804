// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

// Package textutil normalizes arbitrary Unicode text into a canonical,
// display-safe form.
//
// # Usage
//
// CRM records arrive from several legacy stores with inconsistent encodings
// (composed vs. decomposed accents, stray control characters, padded
// whitespace). Display names shown in the dashboard go through this package
// so that the same person always renders — and compares — identically.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CleanName converts a raw stored name into canonical display form.
//
// # Transformation Pipeline
//
// 1. Normalizes to NFC (composes accented chars: e + combining acute → é).
// 2. Strips control and non-printable runes.
// 3. Collapses internal whitespace runs into single spaces.
// 4. Trims leading and trailing whitespace.
func CleanName(s string) string {
	// 1. Compose accents so "José" from any source is byte-identical
	result := norm.NFC.String(s)

	// 2. Drop control characters that leak in from CSV imports
	result = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, result)

	// 3. Collapse whitespace runs
	result = strings.Join(strings.Fields(result), " ")

	return result
}

// LocalPart returns the substring of an email address before the '@'.
// It returns the input unchanged when no '@' is present.
func LocalPart(email string) string {
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return email[:at]
	}
	return email
}
