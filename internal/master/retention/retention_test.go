package retention

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/internal/master/settings"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

type fakeDeleter struct {
	deleted []string
	fail    bool
}

func (f *fakeDeleter) Delete(_ context.Context, key string) error {
	if f.fail {
		return errors.New("bucket unreachable")
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type fixture struct {
	store    *store.Store
	worker   *Worker
	deleter  *fakeDeleter
	site     *models.Site
	provider *models.StorageProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	node, err := st.CreateJoinRequest(ctx, "node-1", "10.0.0.1")
	require.NoError(t, err)
	_, _, err = st.ApproveNode(ctx, node.ID, "")
	require.NoError(t, err)

	site := &models.Site{NodeID: node.ID, Name: "shop", Path: "/var/www/shop", RetentionCopies: 2}
	require.NoError(t, st.CreateSite(ctx, site))

	provider := &models.StorageProvider{Name: "minio", Type: models.ProviderS3, Bucket: "backups", IsActive: true, IsDefault: true}
	require.NoError(t, st.CreateProvider(ctx, provider))

	deleter := &fakeDeleter{}
	worker := NewWorker(st, settings.NewService(st), func(context.Context, *models.StorageProvider) (BlobDeleter, error) {
		return deleter, nil
	})
	return &fixture{store: st, worker: worker, deleter: deleter, site: site, provider: provider}
}

func (f *fixture) addBackup(t *testing.T, n int, createdAt time.Time) *models.Backup {
	t.Helper()
	b := &models.Backup{
		SiteID:     f.site.ID,
		Filename:   fmt.Sprintf("shop_%d.tar.zst", n),
		SizeBytes:  1 << 20,
		ObjectKey:  fmt.Sprintf("n/s/shop_%d.tar.zst", n),
		ProviderID: &f.provider.ID,
		Status:     models.BackupSuccess,
		CreatedAt:  createdAt,
	}
	require.NoError(t, f.store.RecordBackupSuccess(context.Background(), b))
	return b
}

func TestApplySchedulesOnlyExcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Now().Add(-10 * 24 * time.Hour)
	for i := 0; i < 4; i++ {
		f.addBackup(t, i, base.Add(time.Duration(i)*time.Hour))
	}

	scheduled, err := f.worker.Apply(ctx, f.site.ID)
	require.NoError(t, err)
	require.Len(t, scheduled, 2, "keep 2 of 4")

	// The two oldest are the scheduled ones.
	assert.Equal(t, "shop_1.tar.zst", scheduled[0].Filename)
	assert.Equal(t, "shop_0.tar.zst", scheduled[1].Filename)

	// A second pass schedules nothing new.
	again, err := f.worker.Apply(ctx, f.site.ID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSweepDeletesBlobThenRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.addBackup(t, 0, time.Now().Add(-time.Hour))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, f.store.DB().Model(&models.Backup{}).
		Where("id = ?", b.ID).
		Update("scheduled_deletion", past).Error)

	deleted, err := f.worker.SweepDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{b.ObjectKey}, f.deleter.deleted)

	row, err := f.store.GetBackup(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupDeleted, row.Status)

	site, err := f.store.GetSite(ctx, f.site.ID)
	require.NoError(t, err)
	assert.Zero(t, site.StorageUsedBytes, "accounting released")
}

func TestSweepKeepsRowWhenBlobDeleteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deleter.fail = true

	b := f.addBackup(t, 0, time.Now().Add(-time.Hour))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, f.store.DB().Model(&models.Backup{}).
		Where("id = ?", b.ID).
		Update("scheduled_deletion", past).Error)

	deleted, err := f.worker.SweepDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	row, err := f.store.GetBackup(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupSuccess, row.Status, "row stays pending for retry")
	assert.NotNil(t, row.ScheduledDeletion)
}

func TestSweepBeforeDeadlineIsANoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addBackup(t, 0, time.Now().Add(-10*24*time.Hour))
	f.addBackup(t, 1, time.Now().Add(-9*24*time.Hour))
	f.addBackup(t, 2, time.Now().Add(-8*24*time.Hour))

	_, err := f.worker.Apply(ctx, f.site.ID)
	require.NoError(t, err)

	deleted, err := f.worker.SweepDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted, "grace window still open")
}
