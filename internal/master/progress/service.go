// Package progress coordinates the single live status row each site
// carries and fans row changes out to streaming observers.
//
// The store owns durability and the epoch compare-and-set; this package
// adds the in-process notification layer so SSE subscribers see changes
// without polling the database on every tick.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// DefaultStreamInterval is the fallback keepalive cadence for
// subscribers that do not request one.
const DefaultStreamInterval = 2 * time.Second

// Stream interval bounds. Values outside are clamped, not rejected.
const (
	MinStreamInterval = 1 * time.Second
	MaxStreamInterval = 60 * time.Second
)

// AbandonedAfter is how long a RUNNING row may go without an update
// before the sweeper declares the job dead.
const AbandonedAfter = 2 * time.Hour

// Service mediates all progress writes so every change passes through
// the hub exactly once.
type Service struct {
	store *store.Store

	mu   sync.Mutex
	subs map[uint]map[chan struct{}]struct{}
}

// NewService creates a progress service over the given store.
func NewService(st *store.Store) *Service {
	return &Service{
		store: st,
		subs:  make(map[uint]map[chan struct{}]struct{}),
	}
}

// Get returns the site's current row (a synthetic idle row if the site
// has never run).
func (s *Service) Get(ctx context.Context, siteID uint) (*models.BackupProgress, error) {
	return s.store.GetProgress(ctx, siteID)
}

// Pending lists the node's operator-started jobs no engine has picked
// up yet.
func (s *Service) Pending(ctx context.Context, nodeID uint) ([]*models.BackupProgress, error) {
	return s.store.ListPendingProgress(ctx, nodeID)
}

// Start begins a new job for the site and returns its epoch.
func (s *Service) Start(ctx context.Context, siteID uint) (int64, error) {
	epoch, err := s.store.StartProgress(ctx, siteID)
	if err != nil {
		return 0, err
	}
	s.notify(siteID)
	return epoch, nil
}

// Update applies a progress write under the given epoch. Stale writes
// return models.ErrStaleEpoch and produce no notification.
func (s *Service) Update(ctx context.Context, siteID uint, epoch int64, update *models.BackupProgress) (*models.BackupProgress, error) {
	row, err := s.store.UpdateProgress(ctx, siteID, epoch, update)
	if err != nil {
		return nil, err
	}
	s.notify(siteID)
	return row, nil
}

// RequestCancel raises the cooperative cancel flag. Returns true if a
// running job was flagged.
func (s *Service) RequestCancel(ctx context.Context, siteID uint) (bool, error) {
	flagged, err := s.store.RequestCancel(ctx, siteID)
	if err != nil {
		return false, err
	}
	if flagged {
		s.notify(siteID)
	}
	return flagged, nil
}

// CancelRequested reads the cancel flag for the given job epoch.
func (s *Service) CancelRequested(ctx context.Context, siteID uint, epoch int64) (bool, error) {
	return s.store.CancelRequested(ctx, siteID, epoch)
}

// Reset forcibly returns the row to idle, fencing out any straggler
// from the previous job.
func (s *Service) Reset(ctx context.Context, siteID uint, force bool) error {
	if err := s.store.ResetProgress(ctx, siteID, force); err != nil {
		return err
	}
	s.notify(siteID)
	return nil
}

// SweepAbandoned fails rows whose jobs stopped reporting. Called on
// start and from the master's periodic sweep.
func (s *Service) SweepAbandoned(ctx context.Context, olderThan time.Duration) ([]uint, error) {
	swept, err := s.store.SweepAbandonedProgress(ctx, olderThan)
	for _, siteID := range swept {
		s.notify(siteID)
	}
	return swept, err
}

// Subscribe registers an observer for a site's row changes. The channel
// receives a signal (coalesced, capacity 1) whenever the row changes.
// The returned cancel func must be called when the observer goes away.
func (s *Service) Subscribe(siteID uint) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	set, ok := s.subs[siteID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		s.subs[siteID] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if set, ok := s.subs[siteID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(s.subs, siteID)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Service) notify(siteID uint) {
	s.mu.Lock()
	for ch := range s.subs[siteID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
}

// ClampStreamInterval normalizes a subscriber-requested interval into
// the supported range. Zero means the default.
func ClampStreamInterval(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultStreamInterval
	}
	if d < MinStreamInterval {
		return MinStreamInterval
	}
	if d > MaxStreamInterval {
		return MaxStreamInterval
	}
	return d
}
