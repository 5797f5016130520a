package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/pkg/models"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestNode(t *testing.T, s *Store, quota int64) *models.Node {
	t.Helper()
	ctx := context.Background()

	node, err := s.CreateJoinRequest(ctx, "node1.example.com", "10.0.0.1")
	require.NoError(t, err)

	approved, _, err := s.ApproveNode(ctx, node.ID, "")
	require.NoError(t, err)
	require.NoError(t, s.ClaimNodeKey(ctx, node.ID))
	require.NoError(t, s.SetNodeQuota(ctx, node.ID, quota))
	approved.StorageQuotaBytes = quota
	return approved
}

func createTestSite(t *testing.T, s *Store, nodeID uint, name string, quota int64) *models.Site {
	t.Helper()
	site := &models.Site{
		NodeID:            nodeID,
		Name:              name,
		Path:              "/var/www/" + name,
		StorageQuotaBytes: quota,
	}
	require.NoError(t, s.CreateSite(context.Background(), site))
	return site
}

func TestEnrollmentFlow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	node, err := s.CreateJoinRequest(ctx, "api1", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, models.NodePending, node.Status)
	require.NotNil(t, node.RegistrationCode)
	assert.Len(t, *node.RegistrationCode, 5)
	assert.NotEmpty(t, node.UUID)

	// Poll by code before approval.
	found, err := s.GetNodeByCode(ctx, *node.RegistrationCode)
	require.NoError(t, err)
	assert.Equal(t, node.ID, found.ID)
	assert.Equal(t, models.NodePending, found.Status)

	// Approve: key released exactly once via claim.
	approved, key, err := s.ApproveNode(ctx, node.ID, "5.6.7.8")
	require.NoError(t, err)
	assert.Equal(t, models.NodeActive, approved.Status)
	assert.NotEmpty(t, key)
	assert.NotEmpty(t, approved.APIKeyHash)
	assert.NotContains(t, approved.APIKeyHash, key)
	assert.Equal(t, "5.6.7.8", func() string {
		n, _ := s.GetNode(ctx, node.ID)
		return n.Address
	}())

	// First claim succeeds and stamps the retrieval.
	require.NoError(t, s.ClaimNodeKey(ctx, node.ID))
	n, err := s.GetNode(ctx, node.ID)
	require.NoError(t, err)
	require.NotNil(t, n.KeyRetrievedAt)

	// Second claim reports already claimed.
	err = s.ClaimNodeKey(ctx, node.ID)
	assert.ErrorIs(t, err, models.ErrKeyAlreadyClaimed)

	// The code still resolves so later polls see the node's status.
	found, err = s.GetNodeByCode(ctx, *node.RegistrationCode)
	require.NoError(t, err)
	assert.Equal(t, models.NodeActive, found.Status)

	// Approving an active node is a conflict.
	_, _, err = s.ApproveNode(ctx, node.ID, "")
	assert.ErrorIs(t, err, models.ErrNodeNotPending)
}

func TestAuthenticateNode(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	node, err := s.CreateJoinRequest(ctx, "api1", "1.2.3.4")
	require.NoError(t, err)
	_, key, err := s.ApproveNode(ctx, node.ID, "")
	require.NoError(t, err)

	got, err := s.AuthenticateNode(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, node.ID, got.ID)

	_, err = s.AuthenticateNode(ctx, "wrong-key")
	assert.ErrorIs(t, err, models.ErrInvalidAPIKey)

	_, err = s.AuthenticateNode(ctx, "")
	assert.ErrorIs(t, err, models.ErrInvalidAPIKey)

	// Blocked nodes fail with a distinct error so the API can 403.
	require.NoError(t, s.SetNodeStatus(ctx, node.ID, models.NodeBlocked))
	_, err = s.AuthenticateNode(ctx, key)
	assert.ErrorIs(t, err, models.ErrNodeBlocked)
}

func TestProgressEpochCAS(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	node := createTestNode(t, s, 100<<30)
	site := createTestSite(t, s, node.ID, "blog", 20<<30)

	// Fresh site reads as idle.
	row, err := s.GetProgress(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressIdle, row.State)

	epoch, err := s.StartProgress(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)

	// Starting again while running conflicts and leaves the row alone.
	_, err = s.StartProgress(ctx, site.ID)
	assert.ErrorIs(t, err, models.ErrBackupRunning)

	// In-epoch update applies.
	row, err = s.UpdateProgress(ctx, site.ID, epoch, &models.BackupProgress{
		State:   models.ProgressRunning,
		Percent: 40,
		Stage:   models.StageCopyFiles,
		Message: "copying wp-content",
	})
	require.NoError(t, err)
	assert.Equal(t, 40, row.Percent)
	assert.Equal(t, models.StageCopyFiles, row.Stage)

	// Stale-epoch write is dropped.
	_, err = s.UpdateProgress(ctx, site.ID, epoch-1, &models.BackupProgress{
		State: models.ProgressRunning, Percent: 99,
	})
	assert.ErrorIs(t, err, models.ErrStaleEpoch)
	row, err = s.GetProgress(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, row.Percent)

	// Terminal state is sticky.
	_, err = s.UpdateProgress(ctx, site.ID, epoch, &models.BackupProgress{
		State: models.ProgressCompleted, Percent: 100, Stage: models.StageCleanup,
	})
	require.NoError(t, err)
	_, err = s.UpdateProgress(ctx, site.ID, epoch, &models.BackupProgress{
		State: models.ProgressRunning, Percent: 10,
	})
	assert.ErrorIs(t, err, models.ErrStaleEpoch)

	// Restart resets atomically with a bumped epoch.
	epoch2, err := s.StartProgress(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch+1, epoch2)
	row, err = s.GetProgress(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressRunning, row.State)
	assert.Equal(t, 0, row.Percent)
	assert.Empty(t, row.Stage)
	assert.Nil(t, row.Error)
}

func TestProgressCancelAndReset(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	node := createTestNode(t, s, 100<<30)
	site := createTestSite(t, s, node.ID, "blog", 20<<30)

	epoch, err := s.StartProgress(ctx, site.ID)
	require.NoError(t, err)

	raised, err := s.RequestCancel(ctx, site.ID)
	require.NoError(t, err)
	assert.True(t, raised)

	// Idempotent.
	raised, err = s.RequestCancel(ctx, site.ID)
	require.NoError(t, err)
	assert.True(t, raised)

	cancelled, err := s.CancelRequested(ctx, site.ID, epoch)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Reset refuses a running row without force, then fences the old
	// epoch when forced.
	err = s.ResetProgress(ctx, site.ID, false)
	assert.ErrorIs(t, err, models.ErrBackupRunning)
	require.NoError(t, s.ResetProgress(ctx, site.ID, true))

	row, err := s.GetProgress(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressIdle, row.State)
	assert.Equal(t, epoch+1, row.Epoch)

	_, err = s.UpdateProgress(ctx, site.ID, epoch, &models.BackupProgress{State: models.ProgressRunning})
	assert.ErrorIs(t, err, models.ErrStaleEpoch)
}

func TestBackupAccounting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	node := createTestNode(t, s, 100<<30)
	site := createTestSite(t, s, node.ID, "blog", 20<<30)

	providerID := createTestProvider(t, s).ID
	backup := &models.Backup{
		SiteID:     site.ID,
		Filename:   "blog_20260301_020000.tar.zst",
		SizeBytes:  3 << 30,
		ObjectKey:  node.UUID + "/" + site.UUID + "/blog_20260301_020000.tar.zst",
		ProviderID: &providerID,
		Status:     models.BackupSuccess,
	}
	require.NoError(t, s.RecordBackupSuccess(ctx, backup))
	assert.NotEmpty(t, backup.UUID)

	siteRow, err := s.GetSite(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3<<30), siteRow.StorageUsedBytes)
	assert.Nil(t, siteRow.QuotaExceededAt)

	nodeRow, err := s.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3<<30), nodeRow.StorageUsedBytes)

	// Deleting decrements both counters and flips the row.
	require.NoError(t, s.MarkBackupDeleted(ctx, backup.ID))
	siteRow, err = s.GetSite(ctx, site.ID)
	require.NoError(t, err)
	assert.Zero(t, siteRow.StorageUsedBytes)
	nodeRow, err = s.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Zero(t, nodeRow.StorageUsedBytes)

	got, err := s.GetBackup(ctx, backup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupDeleted, got.Status)

	// Idempotent delete.
	require.NoError(t, s.MarkBackupDeleted(ctx, backup.ID))
	nodeRow, err = s.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Zero(t, nodeRow.StorageUsedBytes)
}

func TestQuotaExceededFlag(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	node := createTestNode(t, s, 100<<30)
	site := createTestSite(t, s, node.ID, "blog", 2<<30)

	backup := &models.Backup{
		SiteID:    site.ID,
		Filename:  "blog_a.tar.zst",
		SizeBytes: 3 << 30,
		ObjectKey: "k/a",
		Status:    models.BackupSuccess,
	}
	require.NoError(t, s.RecordBackupSuccess(ctx, backup))

	siteRow, err := s.GetSite(ctx, site.ID)
	require.NoError(t, err)
	require.NotNil(t, siteRow.QuotaExceededAt)

	// Dropping back under quota clears the flag.
	require.NoError(t, s.MarkBackupDeleted(ctx, backup.ID))
	siteRow, err = s.GetSite(ctx, site.ID)
	require.NoError(t, err)
	assert.Nil(t, siteRow.QuotaExceededAt)
}

func TestRetentionMarking(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	node := createTestNode(t, s, 100<<30)
	site := createTestSite(t, s, node.ID, "blog", 50<<30)

	for i := 0; i < 5; i++ {
		b := &models.Backup{
			SiteID:    site.ID,
			Filename:  "blog_" + string(rune('a'+i)) + ".tar.zst",
			SizeBytes: 1 << 30,
			ObjectKey: "k/" + string(rune('a'+i)),
			Status:    models.BackupSuccess,
			CreatedAt: time.Now().Add(time.Duration(i-5) * time.Hour),
		}
		require.NoError(t, s.RecordBackupSuccess(ctx, b))
	}

	scheduled, err := s.MarkRetentionExcess(ctx, site.ID, 2, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, scheduled, 3)
	for _, b := range scheduled {
		require.NotNil(t, b.ScheduledDeletion)
		assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), *b.ScheduledDeletion, time.Minute)
	}

	// Second pass schedules nothing new.
	again, err := s.MarkRetentionExcess(ctx, site.ID, 2, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, again)

	pending, err := s.ListScheduledDeletions(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	// Cancelling restores the backup to the retained set.
	require.NoError(t, s.CancelScheduledDeletion(ctx, scheduled[0].ID))
	pending, err = s.ListScheduledDeletions(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// Nothing is overdue yet.
	overdue, err := s.ListOverdueDeletions(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, overdue)

	overdue, err = s.ListOverdueDeletions(ctx, time.Now().Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, overdue, 2)
}

func TestSiteQuotaRemainder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	node := createTestNode(t, s, 10<<30)
	site1 := createTestSite(t, s, node.ID, "a", 6<<30)
	site2 := createTestSite(t, s, node.ID, "b", 2<<30)

	// 6 + 4 = 10 fits exactly.
	require.NoError(t, s.SetSiteQuota(ctx, site2.ID, 4<<30))

	// One byte over the node remainder is rejected.
	err := s.SetSiteQuota(ctx, site2.ID, 4<<30+1)
	assert.ErrorIs(t, err, models.ErrQuotaOverCommits)

	// Shrinking the other site frees headroom.
	require.NoError(t, s.SetSiteQuota(ctx, site1.ID, 1<<30))
	require.NoError(t, s.SetSiteQuota(ctx, site2.ID, 9<<30))
}

func TestSettingsResolution(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	node := createTestNode(t, s, 10<<30)
	site := createTestSite(t, s, node.ID, "a", 1<<30)

	key := models.SettingRetentionGraceDays
	require.NoError(t, s.SetSetting(ctx, &models.Setting{Scope: models.ScopeGlobal, Key: key, Value: "7"}))

	// Global only.
	v, err := s.ResolveSetting(ctx, key, &node.ID, &site.ID)
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	// Node overrides global.
	require.NoError(t, s.SetSetting(ctx, &models.Setting{Scope: models.ScopeNode, ScopeID: &node.ID, Key: key, Value: "14"}))
	v, err = s.ResolveSetting(ctx, key, &node.ID, &site.ID)
	require.NoError(t, err)
	assert.Equal(t, "14", v)

	// Site overrides node.
	require.NoError(t, s.SetSetting(ctx, &models.Setting{Scope: models.ScopeSite, ScopeID: &site.ID, Key: key, Value: "3"}))
	v, err = s.ResolveSetting(ctx, key, &node.ID, &site.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	// Unset at every level.
	_, err = s.ResolveSetting(ctx, "unknown_key", &node.ID, &site.ID)
	assert.ErrorIs(t, err, models.ErrSettingNotFound)

	// Upsert overwrites in place.
	require.NoError(t, s.SetSetting(ctx, &models.Setting{Scope: models.ScopeSite, ScopeID: &site.ID, Key: key, Value: "5"}))
	v, err = s.ResolveSetting(ctx, key, &node.ID, &site.ID)
	require.NoError(t, err)
	assert.Equal(t, "5", v)
}

func TestActivityLogCap(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	user := &models.User{Email: "admin@example.com", PasswordHash: "x", Role: models.RoleSuperAdmin}
	require.NoError(t, s.CreateUser(ctx, user))

	detail, _ := json.Marshal(map[string]any{"n": 1})
	for i := 0; i < models.MaxActivityPerUser+20; i++ {
		require.NoError(t, s.AppendActivity(ctx, &models.ActivityLog{
			UserID: &user.ID,
			Actor:  user.Email,
			Action: "test.action",
			Detail: string(detail),
		}))
	}

	entries, err := s.ListActivityForUser(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, models.MaxActivityPerUser)
}

func TestRBACVisibility(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	node := createTestNode(t, s, 10<<30)
	site := createTestSite(t, s, node.ID, "a", 1<<30)
	other := createTestSite(t, s, node.ID, "b", 1<<30)

	super := &models.User{Email: "root@example.com", PasswordHash: "x", Role: models.RoleSuperAdmin}
	require.NoError(t, s.CreateUser(ctx, super))

	nodeAdmin := &models.User{Email: "na@example.com", PasswordHash: "x", Role: models.RoleNodeAdmin}
	require.NoError(t, s.CreateUser(ctx, nodeAdmin))
	require.NoError(t, s.DB().Model(nodeAdmin).Association("Nodes").Append(node))

	siteAdmin := &models.User{Email: "sa@example.com", PasswordHash: "x", Role: models.RoleSiteAdmin}
	require.NoError(t, s.CreateUser(ctx, siteAdmin))
	require.NoError(t, s.DB().Model(siteAdmin).Association("Sites").Append(site))

	sites, err := s.ListSitesForUser(ctx, super)
	require.NoError(t, err)
	assert.Len(t, sites, 2)

	sites, err = s.ListSitesForUser(ctx, nodeAdmin)
	require.NoError(t, err)
	assert.Len(t, sites, 2)

	sites, err = s.ListSitesForUser(ctx, siteAdmin)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, site.ID, sites[0].ID)

	ok, err := s.UserCanAccessSite(ctx, siteAdmin, other.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.UserCanAccessSite(ctx, nodeAdmin, other.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncDiscoveredSites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	node := createTestNode(t, s, 10<<30)

	discovered := []*models.Site{
		{Name: "blog", Path: "/var/www/blog", WPConfigPath: "/var/www/blog/wp-config.php"},
		{Name: "shop", Path: "/var/www/shop", WPConfigPath: "/var/www/shop/wp-config.php"},
	}
	sites, err := s.SyncDiscoveredSites(ctx, node.ID, discovered)
	require.NoError(t, err)
	assert.Len(t, sites, 2)

	// Re-sync with a renamed site keeps quota and identity.
	require.NoError(t, s.SetSiteQuota(ctx, sites[0].ID, 1<<30))
	resync := []*models.Site{
		{Name: "blog-renamed", Path: "/var/www/blog", WPConfigPath: "/var/www/blog/wp-config.php"},
	}
	sites, err = s.SyncDiscoveredSites(ctx, node.ID, resync)
	require.NoError(t, err)
	assert.Len(t, sites, 2)
	for _, site := range sites {
		if site.Path == "/var/www/blog" {
			assert.Equal(t, "blog-renamed", site.Name)
			assert.Equal(t, int64(1<<30), site.StorageQuotaBytes)
		}
	}
}

func createTestProvider(t *testing.T, s *Store) *models.StorageProvider {
	t.Helper()
	p := &models.StorageProvider{
		Name:      "default-s3",
		Type:      models.ProviderS3,
		Endpoint:  "https://s3.example.com",
		Region:    "us-east-1",
		Bucket:    "wpfleet-backups",
		IsDefault: true,
		IsActive:  true,
	}
	require.NoError(t, s.CreateProvider(context.Background(), p))
	return p
}

func TestProviderSingleDefault(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestProvider(t, s)

	second := &models.StorageProvider{
		Name: "second", Type: models.ProviderS3, Bucket: "other", IsDefault: true, IsActive: true,
	}
	require.NoError(t, s.CreateProvider(ctx, second))

	def, err := s.GetDefaultProvider(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	firstRow, err := s.GetProvider(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, firstRow.IsDefault)

	require.NoError(t, s.SetDefaultProvider(ctx, first.ID))
	def, err = s.GetDefaultProvider(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, def.ID)
}
