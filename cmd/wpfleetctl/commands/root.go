// Package commands implements the CLI commands for the wpfleetctl
// operator tool.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/cmd/wpfleetctl/cmdutil"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "wpfleetctl",
	Short: "wpfleetctl - wpfleet operator tool",
	Long: `wpfleetctl manages a wpfleet backup master from the command line.

Fleet operations (nodes, backups) talk to the master's REST API and
need a 'wpfleetctl login' first. Break-glass admin operations
(reset-password, disable-mfa, add-storage-provider, set-quota) open the
master database directly and must run on the master host.

Use "wpfleetctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Sync flags to cmdutil.Flags for subcommands
		cmdutil.Flags.ServerURL, _ = cmd.Flags().GetString("server")
		cmdutil.Flags.Token, _ = cmd.Flags().GetString("token")
		cmdutil.Flags.ConfigPath, _ = cmd.Flags().GetString("config")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
		cmdutil.Flags.Verbose, _ = cmd.Flags().GetBool("verbose")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().String("server", "", "Master URL (overrides stored credential)")
	rootCmd.PersistentFlags().String("token", "", "Bearer token (overrides stored credential)")
	rootCmd.PersistentFlags().String("config", "", "Master config file for direct-database commands (default: $XDG_CONFIG_HOME/wpfleet/master.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	// Flag mistakes are operator errors, not internal ones.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &cmdutil.UsageError{Err: err}
	})

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(listUsersCmd)
	rootCmd.AddCommand(listNodesCmd)
	rootCmd.AddCommand(approveNodeCmd)
	rootCmd.AddCommand(resetPasswordCmd)
	rootCmd.AddCommand(disableMFACmd)
	rootCmd.AddCommand(addProviderCmd)
	rootCmd.AddCommand(setQuotaCmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
