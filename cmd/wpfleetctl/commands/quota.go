package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/cmd/wpfleetctl/cmdutil"
	"github.com/wpfleet/wpfleet/internal/bytesize"
	"github.com/wpfleet/wpfleet/pkg/models"
)

var setQuotaCmd = &cobra.Command{
	Use:   "set-quota <node|site> <id> <size>",
	Short: "Set a storage quota",
	Long: `Set the storage quota for a node or a single site.

Sizes accept human-readable suffixes (Ki, Mi, Gi, Ti or KB, MB, GB, TB);
0 removes the quota. Site quotas override the owning node's quota. This
command writes the master database directly and must run on the master
host.

Examples:
  # 500 GiB for node 3
  wpfleetctl set-quota node 3 500Gi

  # 20 GiB for site 12
  wpfleetctl set-quota site 12 20Gi

  # Remove site 12's quota
  wpfleetctl set-quota site 12 0`,
	Args: cobra.ExactArgs(3),
	RunE: runSetQuota,
}

func runSetQuota(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	kind := args[0]

	if kind != "node" && kind != "site" {
		return cmdutil.Usagef("first argument must be 'node' or 'site', got %q", kind)
	}

	id, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return cmdutil.Usagef("invalid %s id %q", kind, args[1])
	}

	quota, err := bytesize.ParseByteSize(args[2])
	if err != nil {
		return cmdutil.Usagef("invalid size %q: %v", args[2], err)
	}

	st, _, err := cmdutil.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	switch kind {
	case "node":
		err = st.SetNodeQuota(ctx, uint(id), quota.Int64())
		if errors.Is(err, models.ErrNodeNotFound) {
			return cmdutil.Usagef("no node with id %d", id)
		}
	case "site":
		err = st.SetSiteQuota(ctx, uint(id), quota.Int64())
		if errors.Is(err, models.ErrSiteNotFound) {
			return cmdutil.Usagef("no site with id %d", id)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to set quota: %w", err)
	}

	cmdutil.LogActivity(ctx, st, kind+".quota_set", kind, args[1], map[string]any{
		"quota_bytes": quota.Int64(),
	})

	if quota == 0 {
		cmdutil.PrintSuccess(fmt.Sprintf("Quota removed from %s %d", kind, id))
	} else {
		cmdutil.PrintSuccess(fmt.Sprintf("Quota for %s %d set to %s", kind, id, quota))
	}
	return nil
}
