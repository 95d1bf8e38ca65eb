// SPDX-License-Identifier: MIT

// Package version exposes build metadata stamped at link time.
package version

import "fmt"

var (
	// Version is overridden via -ldflags at release time.
	Version   = "v0.9.0"
	Commit    = "none"
	BuildDate = "unknown"
)

// UserAgent is sent on every outbound provider request. Some upstreams
// reject generic Go clients, so the product name must stay stable.
func UserAgent() string {
	return fmt.Sprintf("SubMaker %s", Version)
}

// String returns the human-readable build description.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
