//go:build release

// Package assert provides invariant checks that are compiled out of release builds.
package assert

// That is a no-op in release builds.
func That(bool, string, ...any) {} //nolint:goprintffuncname // it's ok

// Enabled reports whether invariant checks are compiled in.
const Enabled = false
