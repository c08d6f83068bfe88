/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package flatid defines the canonical form of flat identifiers.
package flatid

import "strings"

// Normalize returns the canonical form of a flat ID: trimmed and uppercased.
// Every registry key, database lookup, and wire comparison uses this form.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
