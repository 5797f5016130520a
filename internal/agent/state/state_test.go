package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/pkg/apiclient"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorageConfigCache(t *testing.T) {
	s := testStore(t)

	_, err := s.CachedStorageConfig()
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := &apiclient.StorageConfig{
		Provider:  "wasabi",
		Bucket:    "backups",
		AccessKey: "AK",
		SecretKey: "SK",
	}
	require.NoError(t, s.CacheStorageConfig(cfg))

	got, err := s.CachedStorageConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLastBackupSize(t *testing.T) {
	s := testStore(t)

	_, err := s.LastBackupSize(7)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetLastBackupSize(7, 123456789))
	size, err := s.LastBackupSize(7)
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), size)
}

func TestJobJournal(t *testing.T) {
	s := testStore(t)

	jobs, err := s.OrphanedJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)

	rec := &JobRecord{
		JobID:     "b7f9c2",
		SiteID:    3,
		SiteName:  "blog",
		Epoch:     12,
		TempDir:   "/var/tmp/wp-backup-work/b7f9c2",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.JournalJob(rec))

	jobs, err = s.OrphanedJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, rec, jobs[0])

	require.NoError(t, s.ClearJob(rec.JobID))
	jobs, err = s.OrphanedJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
