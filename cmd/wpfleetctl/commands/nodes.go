package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/cmd/wpfleetctl/cmdutil"
	"github.com/wpfleet/wpfleet/internal/bytesize"
	"github.com/wpfleet/wpfleet/internal/cli/output"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
)

var listNodesCmd = &cobra.Command{
	Use:   "list-nodes",
	Short: "List fleet nodes",
	Long: `List all nodes known to the master, including pending join requests.

Examples:
  wpfleetctl list-nodes
  wpfleetctl list-nodes --output json`,
	Args: cobra.NoArgs,
	RunE: runListNodes,
}

var approveNodeCmd = &cobra.Command{
	Use:   "approve-node <id>",
	Short: "Approve a pending node join request",
	Long: `Approve a node's join request.

Approval releases the node's API key: the waiting 'wpfleet-agent join'
picks it up on its next status poll and finishes enrollment.

Examples:
  wpfleetctl approve-node 3`,
	Args: cobra.ExactArgs(1),
	RunE: runApproveNode,
}

func runListNodes(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := cmdutil.GetAuthenticatedClient(ctx)
	if err != nil {
		return err
	}

	nodes, err := client.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	table := output.NewTableData("ID", "HOSTNAME", "STATUS", "SITES", "QUOTA", "USED", "LAST SEEN")
	for _, n := range nodes {
		quota := "-"
		if n.StorageQuotaBytes > 0 {
			quota = bytesize.ByteSize(n.StorageQuotaBytes).String()
		}
		lastSeen := "-"
		if n.LastSeenAt != nil {
			lastSeen = n.LastSeenAt.Local().Format(time.RFC3339)
		}
		table.AddRow(
			strconv.FormatUint(uint64(n.ID), 10),
			n.Hostname,
			n.Status,
			strconv.Itoa(n.SiteCount),
			quota,
			bytesize.ByteSize(n.StorageUsedBytes).String(),
			lastSeen,
		)
	}

	return cmdutil.PrintOutput(os.Stdout, nodes, len(nodes) == 0, "No nodes found.", table)
}

func runApproveNode(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return cmdutil.Usagef("invalid node id %q", args[0])
	}

	client, err := cmdutil.GetAuthenticatedClient(ctx)
	if err != nil {
		return err
	}

	node, err := client.ApproveNode(ctx, uint(id))
	if err != nil {
		if apiclient.IsNotFound(err) {
			return cmdutil.Usagef("no node with id %d", id)
		}
		return fmt.Errorf("failed to approve node: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Node %d (%s) approved", node.ID, node.Hostname))
	fmt.Println("The agent will receive its API key on its next enrollment poll.")
	return nil
}
