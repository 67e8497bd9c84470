// =============================================================================
// GDPLOGD - LOG STORAGE DAEMON
// =============================================================================
//
// USAGE:
//   gdplogd [--config file] [--data-dir dir] [--admin-addr addr] [-D spec]
//   gdplogd version
//
// STARTUP:
//   config ──► logger ──► metrics ──► storage.Init (takes the data-root lock)
//          ──► admin API ──► ready
//
// SIGINT/SIGTERM drains the admin API and then shuts the store down, which
// closes every open log and releases the lock.
//
// =============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/Halliburton-Landmark/gdp-sub000/cmd/gdplogd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
