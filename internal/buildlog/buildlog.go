// Package buildlog narrates index build and teardown progress.
//
// The teacher repo has no shared logging package for library code; progress
// is reported with plain fmt calls at the one place it has a CLI
// (mmph/paramselect/cmd/psig_study). This package is that same idiom given
// a name, so index.BeginBuild/EndBuild and the chunked Destroy loop have
// somewhere to report through instead of sprinkling fmt.Printf across the
// index package.
package buildlog

import (
	"fmt"
	"os"
)

// Verbose turns progress narration on. Off by default: a library should be
// silent unless asked.
var Verbose = false

// Printf writes a progress line to stderr when Verbose is set.
func Printf(format string, args ...any) {
	if !Verbose {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
