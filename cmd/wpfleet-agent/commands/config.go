package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/internal/cli/output"
	"github.com/wpfleet/wpfleet/pkg/config"
)

var (
	configInitForce  bool
	configShowOutput string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage the agent configuration file.

Subcommands:
  init  Create a new configuration file with defaults
  show  Display current configuration`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an agent configuration file",
	Long: `Create an agent configuration file with defaults.

By default, the file is created at $XDG_CONFIG_HOME/wpfleet/agent.yaml.
'wpfleet-agent join' later fills in master_url and api_key.

Examples:
  wpfleet-agent config init
  wpfleet-agent config init --config /etc/wpfleet/agent.yaml --force`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Force overwrite existing config file")
	configShowCmd.Flags().StringVarP(&configShowOutput, "output", "o", "yaml", "Output format (yaml|json)")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configPathOrDefault()

	if _, err := os.Stat(configPath); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
	}

	cfg := config.DefaultAgentConfig()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Adjust scanner.base_paths for this server's web roots")
	fmt.Println("  2. Enroll the node: wpfleet-agent join --master https://<master>")
	fmt.Println("  3. Start the agent: wpfleet-agent start")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAgent(GetConfigFile())
	if err != nil {
		return err
	}

	// The API key is a credential; never print it.
	if cfg.APIKey != "" {
		cfg.APIKey = "<redacted>"
	}

	format, err := output.ParseFormat(configShowOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}
