package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

func newTestService(t *testing.T) (*Service, uint) {
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
	site := &models.Site{NodeID: node.ID, Name: "shop", Path: "/var/www/shop"}
	require.NoError(t, st.CreateSite(ctx, site))

	return NewService(st), site.ID
}

func TestSubscribeReceivesChanges(t *testing.T) {
	svc, siteID := newTestService(t)
	ctx := context.Background()

	ch, cancel := svc.Subscribe(siteID)
	defer cancel()

	epoch, err := svc.Start(ctx, siteID)
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification after start")
	}

	_, err = svc.Update(ctx, siteID, epoch, &models.BackupProgress{
		State: models.ProgressRunning, Percent: 40, Stage: models.StageUpload,
	})
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification after update")
	}

	row, err := svc.Get(ctx, siteID)
	require.NoError(t, err)
	assert.Equal(t, 40, row.Percent)
	assert.Equal(t, models.StageUpload, row.Stage)
}

func TestStaleEpochDoesNotNotify(t *testing.T) {
	svc, siteID := newTestService(t)
	ctx := context.Background()

	epoch, err := svc.Start(ctx, siteID)
	require.NoError(t, err)
	_, err = svc.Update(ctx, siteID, epoch, &models.BackupProgress{
		State: models.ProgressCompleted, Percent: 100, Stage: models.StageCleanup,
	})
	require.NoError(t, err)

	ch, cancel := svc.Subscribe(siteID)
	defer cancel()

	_, err = svc.Update(ctx, siteID, epoch, &models.BackupProgress{
		State: models.ProgressRunning, Percent: 10,
	})
	assert.ErrorIs(t, err, models.ErrStaleEpoch)

	select {
	case <-ch:
		t.Fatal("stale write must not notify")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc, siteID := newTestService(t)
	ctx := context.Background()

	ch, cancel := svc.Subscribe(siteID)
	cancel()

	_, err := svc.Start(ctx, siteID)
	require.NoError(t, err)

	select {
	case <-ch:
		t.Fatal("cancelled subscriber must not receive")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClampStreamInterval(t *testing.T) {
	assert.Equal(t, DefaultStreamInterval, ClampStreamInterval(0))
	assert.Equal(t, MinStreamInterval, ClampStreamInterval(200*time.Millisecond))
	assert.Equal(t, MaxStreamInterval, ClampStreamInterval(5*time.Minute))
	assert.Equal(t, 10*time.Second, ClampStreamInterval(10*time.Second))
}
