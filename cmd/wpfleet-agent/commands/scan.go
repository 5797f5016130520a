package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/internal/agent/scanner"
	"github.com/wpfleet/wpfleet/internal/cli/output"
	"github.com/wpfleet/wpfleet/pkg/config"
)

var scanOutput string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover WordPress sites on this node",
	Long: `Run a one-shot site discovery over the configured base paths and
print what a running agent would report to the master. Nothing is sent;
this is a local dry run.

Examples:
  # Scan with the configured base paths
  wpfleet-agent scan

  # Output as JSON
  wpfleet-agent scan --output json`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAgent(GetConfigFile())
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(scanOutput)
	if err != nil {
		return err
	}

	sites, err := scanner.Scan(cfg.Scanner.BasePaths)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, sites)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, sites)
	default:
		if len(sites) == 0 {
			fmt.Printf("No WordPress sites found under %v\n", cfg.Scanner.BasePaths)
			return nil
		}
		table := output.NewTableData("NAME", "PATH", "DATABASE", "WP-CONTENT")
		for _, s := range sites {
			db := "-"
			if s.DB.Name != "" {
				db = s.DB.Name
			}
			wpContent := "-"
			if s.WPContentPath != "" {
				wpContent = s.WPContentPath
			}
			table.AddRow(s.Name, s.Path, db, wpContent)
		}
		if err := output.PrintTable(os.Stdout, table); err != nil {
			return err
		}
		fmt.Printf("\n%d site(s) found\n", len(sites))
		return nil
	}
}
