// Package scheduler decides when backup jobs run on the node: scheduled
// runs from each site's frequency and day mask, and operator-initiated
// runs picked up from the master's pending list.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wpfleet/wpfleet/internal/agent/scanner"
	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
	"github.com/wpfleet/wpfleet/pkg/models"
)

// pendingPollInterval is how often the scheduler checks for
// operator-started jobs. Tighter than the schedule tick so a manual
// "backup now" feels immediate.
const pendingPollInterval = 10 * time.Second

// Runner executes one backup job. Satisfied by *pipeline.Engine.
type Runner interface {
	Run(ctx context.Context, site apiclient.Site, local scanner.Site, epoch int64, estimateHint int64) error
}

// Config sets the scheduler's knobs.
type Config struct {
	// Tick is the schedule evaluation interval. Default one minute.
	Tick time.Duration

	// MaxConcurrent caps simultaneous backup jobs on this node.
	// Default 2.
	MaxConcurrent int
}

// Scheduler drives the node's backup jobs. At most MaxConcurrent jobs
// run at once and never two for the same site.
type Scheduler struct {
	client *apiclient.Client
	runner Runner
	local  func() []scanner.Site

	tick  time.Duration
	slots *semaphore.Weighted

	mu      sync.Mutex
	running map[uint]bool
	nextDue map[uint]time.Time
}

// New creates a Scheduler. local returns the scanner's latest findings;
// it is called on every evaluation so rescans take effect immediately.
func New(client *apiclient.Client, runner Runner, local func() []scanner.Site, cfg Config) *Scheduler {
	tick := cfg.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Scheduler{
		client:  client,
		runner:  runner,
		local:   local,
		tick:    tick,
		slots:   semaphore.NewWeighted(int64(maxConcurrent)),
		running: make(map[uint]bool),
		nextDue: make(map[uint]time.Time),
	}
}

// Run evaluates schedules on every tick and polls for operator-started
// jobs in between. Blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	pending := time.NewTicker(pendingPollInterval)
	defer pending.Stop()

	// First evaluation straight away so a restart doesn't wait a tick.
	s.evaluate(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.evaluate(ctx, now)
		case <-pending.C:
			s.pickupPending(ctx)
		}
	}
}

// evaluate launches every site whose schedule is due.
func (s *Scheduler) evaluate(ctx context.Context, now time.Time) {
	sites, err := s.client.NodeSites(ctx)
	if err != nil {
		logger.Warn("Schedule evaluation: failed to fetch sites", "error", err)
		return
	}

	locals := s.localByPath()

	for _, site := range sites {
		if !site.IsActive || site.ScheduleFrequency == string(models.FrequencyManual) || site.ScheduleFrequency == "" {
			continue
		}

		due, known := s.dueTime(site, now)
		if !known || now.Before(due) {
			continue
		}

		local, ok := locals[site.Path]
		if !ok {
			logger.Warn("Scheduled site not found on disk, skipping", "site", site.Name, "path", site.Path)
			s.advance(site, now)
			continue
		}

		s.launchScheduled(ctx, site, local, now)
	}
}

// dueTime returns the site's next due instant, computing and memoizing
// it on first sight. A schedule change on the master produces a new
// due time on the next evaluation after the current one fires.
func (s *Scheduler) dueTime(site apiclient.Site, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if due, ok := s.nextDue[site.ID]; ok {
		return due, true
	}

	next := nextRun(site, now)
	if next == nil {
		return time.Time{}, false
	}
	s.nextDue[site.ID] = *next
	return *next, true
}

// advance moves the site's due time past now.
func (s *Scheduler) advance(site apiclient.Site, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next := nextRun(site, now); next != nil {
		s.nextDue[site.ID] = *next
	} else {
		delete(s.nextDue, site.ID)
	}
}

// launchScheduled claims an epoch and starts the job. A full node
// leaves the due time in the past so the next tick retries.
func (s *Scheduler) launchScheduled(ctx context.Context, site apiclient.Site, local scanner.Site, now time.Time) {
	if !s.markRunning(site.ID) {
		return
	}
	if !s.slots.TryAcquire(1) {
		s.unmarkRunning(site.ID)
		logger.Debug("All backup slots busy, deferring", "site", site.Name)
		return
	}

	epoch, err := s.client.ClaimBackup(ctx, site.ID)
	if err != nil {
		s.slots.Release(1)
		s.unmarkRunning(site.ID)
		if apiclient.IsConflict(err) {
			// Another principal already started this site; the
			// pending poll or its own engine owns it.
			s.advance(site, now)
			return
		}
		logger.Warn("Failed to claim scheduled backup", "site", site.Name, "error", err)
		return
	}

	s.advance(site, now)
	s.startJob(ctx, site, local, epoch)
}

// pickupPending starts operator-initiated jobs the master is holding.
func (s *Scheduler) pickupPending(ctx context.Context) {
	jobs, err := s.client.PendingBackups(ctx)
	if err != nil {
		logger.Debug("Pending backup poll failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	sites, err := s.client.NodeSites(ctx)
	if err != nil {
		logger.Warn("Pending pickup: failed to fetch sites", "error", err)
		return
	}
	byID := make(map[uint]apiclient.Site, len(sites))
	for _, site := range sites {
		byID[site.ID] = site
	}
	locals := s.localByPath()

	for _, job := range jobs {
		site, ok := byID[job.SiteID]
		if !ok {
			continue
		}
		local, ok := locals[site.Path]
		if !ok {
			logger.Warn("Pending job's site not found on disk", "site", site.Name, "path", site.Path)
			continue
		}
		if !s.markRunning(site.ID) {
			continue
		}
		if !s.slots.TryAcquire(1) {
			s.unmarkRunning(site.ID)
			return
		}
		logger.Info("Picking up operator-started backup", "site", site.Name, "epoch", job.Epoch)
		s.startJob(ctx, site, local, job.Epoch)
	}
}

// startJob runs the engine in its own goroutine. The site mark and the
// slot are released when it returns, whatever the outcome.
func (s *Scheduler) startJob(ctx context.Context, site apiclient.Site, local scanner.Site, epoch int64) {
	go func() {
		defer s.slots.Release(1)
		defer s.unmarkRunning(site.ID)

		if err := s.runner.Run(ctx, site, local, epoch, 0); err != nil {
			logger.Error("Backup job failed", "site", site.Name, "error", err)
		}
	}()
}

func (s *Scheduler) markRunning(siteID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[siteID] {
		return false
	}
	s.running[siteID] = true
	return true
}

func (s *Scheduler) unmarkRunning(siteID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, siteID)
}

func (s *Scheduler) localByPath() map[string]scanner.Site {
	out := make(map[string]scanner.Site)
	for _, site := range s.local() {
		out[site.Path] = site
	}
	return out
}

// nextRun evaluates the site's schedule with the shared model logic.
func nextRun(site apiclient.Site, after time.Time) *time.Time {
	m := models.Site{
		Timezone:          site.Timezone,
		ScheduleFrequency: models.BackupFrequency(site.ScheduleFrequency),
		ScheduleTime:      site.ScheduleTime,
		ScheduleDays:      site.ScheduleDays,
	}
	return m.NextScheduledRun(after)
}
