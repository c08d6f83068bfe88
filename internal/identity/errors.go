/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package identity implements the flat account lifecycle: access
// requests, setup-code PIN enrollment and login.
package identity

import "time"

// Error codes returned to clients. The strings are part of the wire
// contract; the frontend switches on them.
const (
	CodeMissingFields      = "MISSING_FIELDS"
	CodeMissingFlatID      = "MISSING_FLAT_ID"
	CodePinMustBe4Digits   = "PIN_MUST_BE_4_DIGITS"
	CodeInvalidPin         = "INVALID_PIN"
	CodeFlatNotFound       = "FLAT_NOT_FOUND"
	CodeFlatDisabled       = "FLAT_DISABLED"
	CodeNoValidCode        = "NO_VALID_CODE"
	CodeInvalidCode        = "INVALID_CODE"
	CodeBanned             = "BANNED"
	CodeAdminRevoke        = "ADMIN_REVOKE_REQUIRED"
	CodePinNotSet          = "PIN_NOT_SET"
	CodePasswordRequired   = "PASSWORD_REQUIRED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
)

// Error is a coded failure of an identity operation. Handlers map Code
// straight onto the JSON error field; internals never leak.
type Error struct {
	Code     string
	BanUntil *time.Time // set only for CodeBanned
}

func (e *Error) Error() string { return e.Code }

// coded builds a plain coded error.
func coded(code string) *Error { return &Error{Code: code} }

// banned builds a BANNED error carrying the ban expiry.
func banned(until *time.Time) *Error {
	return &Error{Code: CodeBanned, BanUntil: until}
}
