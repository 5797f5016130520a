// wpfleet is the fleet backup master: it serves the REST API, owns the
// database of nodes, sites and backups, and runs the retention and
// reconciliation loops.
package main

import (
	"fmt"
	"os"

	"github.com/wpfleet/wpfleet/cmd/wpfleet/commands"
)

// Version information set by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
