package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wpfleet/wpfleet/pkg/models"
)

// TestPostgresStore exercises the store against a real PostgreSQL,
// including the embedded migrations. Requires Docker; skipped in short
// mode.
func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("wpfleet_test"),
		tcpostgres.WithUsername("wpfleet_test"),
		tcpostgres.WithPassword("wpfleet_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	s, err := New(&Config{
		Type: DatabaseTypePostgres,
		Postgres: PostgresConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "wpfleet_test",
			User:     "wpfleet_test",
			Password: "wpfleet_test",
			SSLMode:  "disable",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// Enrollment and accounting round trip over the migrated schema.
	node, err := s.CreateJoinRequest(ctx, "pg-node", "10.1.1.1")
	require.NoError(t, err)
	_, key, err := s.ApproveNode(ctx, node.ID, "")
	require.NoError(t, err)
	require.NoError(t, s.SetNodeQuota(ctx, node.ID, 100<<30))

	got, err := s.AuthenticateNode(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, node.ID, got.ID)

	site := &models.Site{NodeID: node.ID, Name: "blog", Path: "/var/www/blog", StorageQuotaBytes: 20 << 30}
	require.NoError(t, s.CreateSite(ctx, site))

	epoch, err := s.StartProgress(ctx, site.ID)
	require.NoError(t, err)
	_, err = s.StartProgress(ctx, site.ID)
	assert.ErrorIs(t, err, models.ErrBackupRunning)

	_, err = s.UpdateProgress(ctx, site.ID, epoch, &models.BackupProgress{
		State: models.ProgressCompleted, Percent: 100, Stage: models.StageCleanup,
	})
	require.NoError(t, err)

	backup := &models.Backup{
		SiteID:    site.ID,
		Filename:  "blog_20260301_020000.tar.zst",
		SizeBytes: 3 << 30,
		ObjectKey: node.UUID + "/" + site.UUID + "/blog_20260301_020000.tar.zst",
		Status:    models.BackupSuccess,
	}
	require.NoError(t, s.RecordBackupSuccess(ctx, backup))

	siteRow, err := s.GetSite(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3<<30), siteRow.StorageUsedBytes)
	nodeRow, err := s.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3<<30), nodeRow.StorageUsedBytes)
}
