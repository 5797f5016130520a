package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/cmd/wpfleetctl/cmdutil"
	"github.com/wpfleet/wpfleet/internal/bytesize"
	"github.com/wpfleet/wpfleet/internal/cli/prompt"
	"github.com/wpfleet/wpfleet/internal/seal"
	"github.com/wpfleet/wpfleet/pkg/models"
)

var addProviderCmd = &cobra.Command{
	Use:   "add-storage-provider",
	Short: "Add a storage provider",
	Long: `Add a backup storage provider interactively.

The access and secret keys are prompted for (never passed on the
command line) and stored sealed under the master's seal secret. This
command writes the master database directly and must run on the master
host with the seal secret available.

Examples:
  wpfleetctl add-storage-provider`,
	Args: cobra.NoArgs,
	RunE: runAddProvider,
}

func runAddProvider(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, cfg, err := cmdutil.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sealSecret := cfg.Seal.GetSealSecret()
	if sealSecret == "" {
		return fmt.Errorf("no seal secret configured; set seal.secret in the master config or export WPFLEET_SEAL_SECRET")
	}
	sealer, err := seal.New(sealSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize credential seal: %w", err)
	}

	name, err := prompt.InputRequired("Provider name")
	if err != nil {
		return handleAbort(err)
	}

	providerType, err := prompt.SelectString("Provider type", []string{string(models.ProviderS3), string(models.ProviderLocal)})
	if err != nil {
		return handleAbort(err)
	}

	provider := &models.StorageProvider{
		Name:     name,
		Type:     models.ProviderType(providerType),
		IsActive: true,
	}

	if provider.Type == models.ProviderS3 {
		endpoint, err := prompt.InputOptional("Endpoint (empty for AWS)")
		if err != nil {
			return handleAbort(err)
		}
		region, err := prompt.Input("Region", "us-east-1")
		if err != nil {
			return handleAbort(err)
		}
		bucket, err := prompt.InputRequired("Bucket")
		if err != nil {
			return handleAbort(err)
		}
		pathStyle, err := prompt.Confirm("Force path-style addressing (required by most non-AWS stores)", endpoint != "")
		if err != nil {
			return handleAbort(err)
		}

		accessKey, err := prompt.Password("Access key")
		if err != nil {
			return handleAbort(err)
		}
		secretKey, err := prompt.Password("Secret key")
		if err != nil {
			return handleAbort(err)
		}

		provider.Endpoint = endpoint
		provider.Region = region
		provider.Bucket = bucket
		provider.ForcePathStyle = pathStyle

		provider.AccessKeySealed, err = sealer.Seal(accessKey)
		if err != nil {
			return fmt.Errorf("failed to seal access key: %w", err)
		}
		provider.SecretKeySealed, err = sealer.Seal(secretKey)
		if err != nil {
			return fmt.Errorf("failed to seal secret key: %w", err)
		}
	} else {
		// Local providers store archives on a master-host path carried in
		// the bucket field.
		path, err := prompt.InputRequired("Storage path")
		if err != nil {
			return handleAbort(err)
		}
		provider.Bucket = path
	}

	limitStr, err := prompt.Input("Storage limit (e.g. 500Gi, empty for unlimited)", "")
	if err != nil {
		return handleAbort(err)
	}
	if limitStr != "" {
		limit, err := bytesize.ParseByteSize(limitStr)
		if err != nil {
			return cmdutil.Usagef("invalid storage limit %q: %v", limitStr, err)
		}
		provider.StorageLimitBytes = limit.Int64()
	}

	makeDefault, err := prompt.Confirm("Make this the default provider", true)
	if err != nil {
		return handleAbort(err)
	}
	provider.IsDefault = makeDefault

	if err := st.CreateProvider(ctx, provider); err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	cmdutil.LogActivity(ctx, st, "provider.created", "storage_provider", provider.UUID, map[string]any{
		"name":    provider.Name,
		"type":    provider.Type,
		"bucket":  provider.Bucket,
		"default": provider.IsDefault,
	})

	cmdutil.PrintSuccess(fmt.Sprintf("Storage provider '%s' created (id %d)", provider.Name, provider.ID))
	if provider.IsDefault {
		fmt.Println("Agents will pick up the new default on their next storage-config refresh.")
	}
	return nil
}
