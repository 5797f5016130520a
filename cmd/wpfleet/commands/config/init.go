package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a master configuration file",
	Long: `Initialize a wpfleet master configuration file with defaults.

By default, the configuration file is created at
$XDG_CONFIG_HOME/wpfleet/master.yaml. Use --config to specify a custom path.

Examples:
  # Initialize with default location
  wpfleet config init

  # Initialize with custom path
  wpfleet config init --config /etc/wpfleet/master.yaml

  # Force overwrite existing config
  wpfleet config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.MasterConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
	}

	cfg := config.DefaultMasterConfig()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the master with: wpfleet start")
	fmt.Printf("  3. Or specify custom config: wpfleet start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  Storage provider credentials are sealed under a secret the master")
	fmt.Println("  reads at startup. Keep it out of the config file in production:")
	fmt.Printf("    export %s=$(openssl rand -hex 32)\n", config.EnvSealSecret)

	return nil
}
