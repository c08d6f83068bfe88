/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package netutil has small helpers for client address handling.
package netutil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the request's client IP as a bare address. RemoteAddr
// is already rewritten by the RealIP middleware when a trusted proxy
// forwarded the request.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if net.ParseIP(host) == nil {
		return "unknown"
	}
	return host
}
