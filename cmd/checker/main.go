// =============================================================================
// CHECKER - OFFLINE CONSISTENCY CHECK AND INDEX REBUILD
// =============================================================================
//
// USAGE:
//   checker [-D debug-spec] [-r] log-name ...
//
// EXAMPLES:
//   checker my.log                          # Compare indices with the data
//   checker -r my.log other.log             # Rebuild both logs' indices
//   checker -D 'checker=debug' <43-char>    # Verbose, printable name
//   checker -r --remove-orphans my.log      # Also delete orphan segments
//
// Run it while gdplogd is stopped. Exit status is 1 if any log is
// inconsistent, could not be rebuilt, or could not be read.
//
// =============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/Halliburton-Landmark/gdp-sub000/cmd/checker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
