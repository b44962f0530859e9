// Package errutil holds the assertion helpers used to flag programmer
// errors that spec.md classifies as "asserted" rather than reported to the
// caller (length mismatches between bit-vectors, out-of-range dimensions
// supplied by the package's own callers, and so on).
package errutil

import "fmt"

// Debug gates the assertions below. Production builds should leave it
// false so a malformed-but-recoverable internal state does not crash the
// host; test code can set it to true to catch invariant violations eagerly.
var Debug = false

// Bug panics with format if Debug is enabled.
func Bug(format string, args ...any) {
	if Debug {
		panic(fmt.Sprintf("BUG: "+format, args...))
	}
}

// BugOn panics with format if cond is true and Debug is enabled.
func BugOn(cond bool, format string, args ...any) {
	if Debug && cond {
		Bug(format, args...)
	}
}

// BugOnNotEq panics if a != b and Debug is enabled.
func BugOnNotEq(a, b any) {
	BugOn(a != b, "expected %v == %v", a, b)
}

// FatalIf panics if err is non-nil, regardless of Debug. Used at points
// where a non-nil error can only mean an allocation failure that the
// caller has already decided is unrecoverable for the current operation.
func FatalIf(err error) {
	if err == nil {
		return
	}
	panic(fmt.Sprintf("FATAL: %v", err))
}
