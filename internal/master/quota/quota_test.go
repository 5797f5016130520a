package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

type fixture struct {
	store *store.Store
	node  *models.Node
	site  *models.Site
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
	require.NoError(t, st.SetNodeQuota(ctx, node.ID, 10<<30))

	site := &models.Site{NodeID: node.ID, Name: "shop", Path: "/var/www/shop", StorageQuotaBytes: 5 << 30}
	require.NoError(t, st.CreateSite(ctx, site))

	return &fixture{store: st, node: node, site: site}
}

func (f *fixture) recordSuccess(t *testing.T, size int64) {
	t.Helper()
	require.NoError(t, f.store.RecordBackupSuccess(context.Background(), &models.Backup{
		SiteID:    f.site.ID,
		Filename:  "shop.tar.zst",
		SizeBytes: size,
		ObjectKey: "n/s/shop.tar.zst",
		Status:    models.BackupSuccess,
	}))
}

func TestEstimateFallsBackToDefault(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store)

	est, err := svc.Estimate(context.Background(), f.site.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultEstimateBytes), est)
}

func TestEstimatePrefersLastBackupOverHint(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store)
	ctx := context.Background()

	est, err := svc.Estimate(ctx, f.site.ID, 3<<30)
	require.NoError(t, err)
	assert.Equal(t, int64(3<<30), est, "hint used when no history")

	f.recordSuccess(t, 2<<30)
	est, err = svc.Estimate(ctx, f.site.ID, 3<<30)
	require.NoError(t, err)
	assert.Equal(t, int64(2<<30), est, "history wins over hint")
}

func TestAdmitSiteBound(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store)
	ctx := context.Background()

	// 4 GiB used of a 5 GiB site quota; a 2 GiB projection must fail
	// on the site bound even though the node has room.
	f.recordSuccess(t, 4<<30)

	v, err := svc.Admit(ctx, f.site.ID, 2<<30)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, BoundSite, v.ExceededBound)
	assert.Equal(t, int64(4<<30), v.EstimateBytes, "projection follows last backup size")
}

func TestAdmitNodeBound(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store)
	ctx := context.Background()

	// Site quota unlimited; node at 9 of 10 GiB via a sibling site.
	require.NoError(t, f.store.SetSiteQuota(ctx, f.site.ID, 0))
	sibling := &models.Site{NodeID: f.node.ID, Name: "blog", Path: "/var/www/blog"}
	require.NoError(t, f.store.CreateSite(ctx, sibling))
	require.NoError(t, f.store.RecordBackupSuccess(ctx, &models.Backup{
		SiteID: sibling.ID, Filename: "blog.tar.zst", SizeBytes: 9 << 30,
		ObjectKey: "n/b/blog.tar.zst", Status: models.BackupSuccess,
	}))

	v, err := svc.Admit(ctx, f.site.ID, 2<<30)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, BoundNode, v.ExceededBound)
}

func TestAdmitAllowed(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store)

	v, err := svc.Admit(context.Background(), f.site.ID, 1<<30)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, BoundNone, v.ExceededBound)
	assert.Equal(t, int64(1<<30), v.ProjectedSiteBytes)
}

func TestZeroQuotaMeansUnlimited(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store)
	ctx := context.Background()

	require.NoError(t, f.store.SetSiteQuota(ctx, f.site.ID, 0))
	require.NoError(t, f.store.SetNodeQuota(ctx, f.node.ID, 0))

	v, err := svc.Admit(ctx, f.site.ID, 500<<30)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}
