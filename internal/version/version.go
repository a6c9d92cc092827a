/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build information.
package version

import "fmt"

// Version is the current version of pathfeed.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/pathfeed/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the source revision, also set via ldflags.
var Commit = "unknown"

// String formats the version for display.
func String() string {
	return fmt.Sprintf("pathfeed %s (%s)", Version, Commit)
}
