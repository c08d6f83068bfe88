/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/audixlabs/audix/internal/identity"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": code})
}

// validationCodes are always HTTP 400, regardless of surface.
var validationCodes = map[string]bool{
	identity.CodeMissingFields:    true,
	identity.CodeMissingFlatID:    true,
	identity.CodePinMustBe4Digits: true,
	identity.CodeInvalidPin:       true,
}

// writeIdentityError maps an identity failure onto the wire. Login
// failures that are not validation errors come back 401; everything
// else 400. Unexpected errors become an opaque 500.
func writeIdentityError(w http.ResponseWriter, err error, login bool) {
	var ie *identity.Error
	if !errors.As(err, &ie) {
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}

	status := http.StatusBadRequest
	if login && !validationCodes[ie.Code] {
		status = http.StatusUnauthorized
	}

	body := map[string]any{"ok": false, "error": ie.Code}
	if ie.Code == identity.CodeBanned && ie.BanUntil != nil {
		body["ban_until"] = ie.BanUntil
	}
	writeJSON(w, status, body)
}
