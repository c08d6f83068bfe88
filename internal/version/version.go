/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds the build version string.
package version

// Version is the current version of Audix. Set at build time via ldflags:
//
//	-X github.com/audixlabs/audix/internal/version.Version=X.Y.Z
var Version = "0.3.0"
