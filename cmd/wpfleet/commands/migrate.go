package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/config"
	"github.com/wpfleet/wpfleet/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the master database.

This command applies pending database migrations to the configured master
database (SQLite or PostgreSQL). It is required after upgrading wpfleet when
schema changes have been made.

Examples:
  # Run migrations with default config
  wpfleet migrate

  # Run migrations with custom config
  wpfleet migrate --config /etc/wpfleet/master.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoadMaster(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("Running database migrations", "type", cfg.Database.Type)

	// Opening the store triggers auto-migration
	ctx := context.Background()
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Verify the migration worked by checking if we can query users
	if _, err := st.ListUsers(ctx); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
	return nil
}
