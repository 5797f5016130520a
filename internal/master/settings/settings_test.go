package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRetentionGraceTiers(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	ctx := context.Background()

	nodeID, siteID := uint(1), uint(2)

	grace, err := svc.RetentionGrace(ctx, &nodeID, &siteID)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, grace, "compiled-in default")

	require.NoError(t, st.SetSetting(ctx, &models.Setting{
		Scope: models.ScopeGlobal, Key: models.SettingRetentionGraceDays, Value: "14",
	}))
	grace, err = svc.RetentionGrace(ctx, &nodeID, &siteID)
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, grace)

	require.NoError(t, st.SetSetting(ctx, &models.Setting{
		Scope: models.ScopeSite, ScopeID: &siteID, Key: models.SettingRetentionGraceDays, Value: "2",
	}))
	grace, err = svc.RetentionGrace(ctx, &nodeID, &siteID)
	require.NoError(t, err)
	assert.Equal(t, 2*24*time.Hour, grace, "site tier wins")
}

func TestDriftThresholdIgnoresGarbage(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	ctx := context.Background()

	v, err := svc.DriftThreshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultDriftThreshold, v)

	require.NoError(t, st.SetSetting(ctx, &models.Setting{
		Scope: models.ScopeGlobal, Key: models.SettingDriftThreshold, Value: "not-a-number",
	}))
	v, err = svc.DriftThreshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultDriftThreshold, v)

	require.NoError(t, st.SetSetting(ctx, &models.Setting{
		Scope: models.ScopeGlobal, Key: models.SettingDriftThreshold, Value: "0.05",
	}))
	v, err = svc.DriftThreshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.05, v)
}

func TestBandwidthLimitParsesHumanSizes(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	ctx := context.Background()
	nodeID := uint(1)

	limit, err := svc.BandwidthLimit(ctx, &nodeID)
	require.NoError(t, err)
	assert.Zero(t, limit, "unset means unlimited")

	require.NoError(t, st.SetSetting(ctx, &models.Setting{
		Scope: models.ScopeNode, ScopeID: &nodeID, Key: models.SettingBandwidthLimit, Value: "10MiB",
	}))
	limit, err = svc.BandwidthLimit(ctx, &nodeID)
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20), limit)
}
