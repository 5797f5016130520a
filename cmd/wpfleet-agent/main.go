// wpfleet-agent is the node daemon: it discovers WordPress sites,
// evaluates backup schedules, runs the backup pipeline and reports to
// the wpfleet master.
package main

import (
	"fmt"
	"os"

	"github.com/wpfleet/wpfleet/cmd/wpfleet-agent/commands"
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
