// wpfleetctl is the operator CLI for a wpfleet master. Fleet-facing
// operations go through the REST API; break-glass admin operations
// (password resets, MFA recovery, provider setup) open the master
// database directly.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/wpfleet/wpfleet/cmd/wpfleetctl/cmdutil"
	"github.com/wpfleet/wpfleet/cmd/wpfleetctl/commands"
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

		// Exit 2 for operator mistakes (bad arguments, unknown targets),
		// 1 for everything else.
		var usageErr *cmdutil.UsageError
		if errors.As(err, &usageErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
