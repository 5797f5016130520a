// Package state persists the agent's local state in a BadgerDB
// database: the cached storage provider config, last successful backup
// sizes per site, and the crash journal of in-flight jobs.
//
// Everything the agent stores here is reconstructible from the master;
// the cache exists so backups keep working through short master
// outages and so pre-flight estimates don't need a round trip.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/wpfleet/wpfleet/pkg/apiclient"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("state: not found")

// Key prefixes. One keyspace, prefix per record type.
const (
	prefixStorageConfig = "storage_config"
	prefixLastSize      = "last_size/"
	prefixJob           = "job/"
)

// Store is the agent's local state store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the state database in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CacheStorageConfig stores the master-provided storage configuration.
func (s *Store) CacheStorageConfig(cfg *apiclient.StorageConfig) error {
	return s.setJSON(prefixStorageConfig, cfg)
}

// CachedStorageConfig returns the last cached storage configuration.
func (s *Store) CachedStorageConfig() (*apiclient.StorageConfig, error) {
	var cfg apiclient.StorageConfig
	if err := s.getJSON(prefixStorageConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetLastBackupSize records the size of a site's last successful backup,
// used as the pre-flight estimate for the next run.
func (s *Store) SetLastBackupSize(siteID uint, sizeBytes int64) error {
	return s.setJSON(fmt.Sprintf("%s%d", prefixLastSize, siteID), sizeBytes)
}

// LastBackupSize returns a site's last successful backup size.
func (s *Store) LastBackupSize(siteID uint) (int64, error) {
	var size int64
	if err := s.getJSON(fmt.Sprintf("%s%d", prefixLastSize, siteID), &size); err != nil {
		return 0, err
	}
	return size, nil
}

// JobRecord is one crash-journal entry for an in-flight backup job.
// Written before the pipeline starts and removed after cleanup, so a
// record found on startup means the previous run died mid-job.
type JobRecord struct {
	JobID     string    `json:"job_id"`
	SiteID    uint      `json:"site_id"`
	SiteName  string    `json:"site_name"`
	Epoch     int64     `json:"epoch"`
	TempDir   string    `json:"temp_dir"`
	StartedAt time.Time `json:"started_at"`
}

// JournalJob records an in-flight job.
func (s *Store) JournalJob(rec *JobRecord) error {
	return s.setJSON(prefixJob+rec.JobID, rec)
}

// ClearJob removes a job from the journal.
func (s *Store) ClearJob(jobID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixJob + jobID))
	})
}

// OrphanedJobs returns all journaled jobs. On a healthy daemon the
// journal is empty between jobs, so at startup anything here is an
// orphan from a crash.
func (s *Store) OrphanedJobs() ([]*JobRecord, error) {
	var jobs []*JobRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixJob)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec JobRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to decode job record: %w", err)
				}
				jobs = append(jobs, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *Store) setJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) getJSON(key string, out any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
