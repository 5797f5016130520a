// Package commands implements the CLI commands for the wpfleet node agent.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "wpfleet-agent",
	Short: "wpfleet-agent - WordPress backup node agent",
	Long: `wpfleet-agent runs on each web server in a wpfleet backup fleet.

It discovers WordPress installations, runs scheduled backups through the
dump/archive/upload pipeline, and reports progress and health to the
master.

A fresh node enrolls with 'wpfleet-agent join'; once an operator approves
the node, 'wpfleet-agent start' runs the daemon.

Use "wpfleet-agent [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/wpfleet/agent.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
