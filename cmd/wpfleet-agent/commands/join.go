package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/pkg/apiclient"
	"github.com/wpfleet/wpfleet/pkg/config"
)

var (
	joinMaster  string
	joinAddress string
	joinTimeout time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Enroll this node with a wpfleet master",
	Long: `Enroll this node with a wpfleet master.

The command posts a join request, prints the registration code an
operator must approve (wpfleetctl approve-node or the web UI), and
polls until approval. On approval the received API key and master URL
are written to the agent config file.

Examples:
  # Enroll with a master
  wpfleet-agent join --master https://backup.example.com

  # Advertise an explicit address for the master to record
  wpfleet-agent join --master https://backup.example.com --address 10.0.0.5`,
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&joinMaster, "master", "", "Master base URL (required)")
	joinCmd.Flags().StringVar(&joinAddress, "address", "", "Address to advertise (default: let the master use the source IP)")
	joinCmd.Flags().DurationVar(&joinTimeout, "timeout", time.Hour, "How long to wait for operator approval")
	_ = joinCmd.MarkFlagRequired("master")
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAgent(GetConfigFile())
	if err != nil {
		return err
	}
	if cfg.APIKey != "" {
		return fmt.Errorf("this node is already enrolled with %s\nRemove api_key from the config file to re-enroll", cfg.MasterURL)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to determine hostname: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	client := apiclient.New(joinMaster)
	result, err := client.Join(ctx, hostname, joinAddress)
	if err != nil {
		return fmt.Errorf("join request failed: %w", err)
	}

	fmt.Printf("Join request submitted to %s\n\n", joinMaster)
	fmt.Printf("  Registration code: %s\n\n", result.RegistrationCode)
	fmt.Println("Ask an operator to approve this node:")
	fmt.Printf("  wpfleetctl approve-node %d\n\n", result.RequestID)
	fmt.Println("Waiting for approval (Ctrl+C to abort)...")

	apiKey, err := pollApproval(ctx, client, result.RegistrationCode)
	if err != nil {
		return err
	}

	cfg.MasterURL = joinMaster
	cfg.APIKey = apiKey
	configPath := configPathOrDefault()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("node approved but saving the config failed: %w\n\n"+
			"Write the API key manually to %s:\n  api_key: %s", err, configPath, apiKey)
	}

	fmt.Println("\nNode approved.")
	fmt.Printf("Configuration written to: %s\n", configPath)
	fmt.Println("\nStart the agent with: wpfleet-agent start")
	return nil
}

// pollApproval polls the public status endpoint until the master hands
// out the API key. The key is delivered exactly once; a 404 after that
// means the code was claimed by someone else and enrollment must start
// over.
func pollApproval(ctx context.Context, client *apiclient.Client, code string) (string, error) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("enrollment aborted: %w", ctx.Err())
		case <-ticker.C:
		}

		status, err := client.PollEnrollment(ctx, code)
		if err != nil {
			if apiclient.IsNotFound(err) {
				return "", fmt.Errorf("registration code no longer valid; run 'wpfleet-agent join' again")
			}
			// Transient master trouble; keep polling
			continue
		}

		switch status.Status {
		case "active":
			if status.APIKey == "" {
				return "", fmt.Errorf("node approved but the API key was already claimed; run 'wpfleet-agent join' again")
			}
			return status.APIKey, nil
		case "blocked":
			return "", fmt.Errorf("join request was rejected by the operator")
		default:
			// still pending
		}
	}
}
