//go:build !release

// Package assert provides invariant checks that are compiled out of release builds.
package assert

import "fmt"

// That panics with the formatted message when cond is false.
func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Enabled reports whether invariant checks are compiled in.
const Enabled = true
