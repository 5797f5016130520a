package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wpfleet/wpfleet/internal/agent/state"
	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
)

// Recover runs at daemon startup: journaled jobs with no running
// process are crash leftovers, so their progress rows get force-reset
// on the master and their temp dirs removed. Unjournaled temp dirs
// (kept failures, interrupted sweeps) go once they outlive the stale
// grace period.
func (e *Engine) Recover(ctx context.Context) error {
	if err := os.MkdirAll(e.tempRoot, 0o700); err != nil {
		return fmt.Errorf("create temp root: %w", err)
	}

	orphans, err := e.state.OrphanedJobs()
	if err != nil {
		return fmt.Errorf("read job journal: %w", err)
	}

	for _, rec := range orphans {
		logger.Warn("Recovering orphaned backup job",
			"job_id", rec.JobID,
			"site", rec.SiteName,
			"started_at", rec.StartedAt,
		)

		if err := e.client.ResetProgress(ctx, rec.SiteID, true); err != nil {
			// The master may already have swept the row as abandoned.
			logger.Debug("Progress reset for orphan failed", "site_id", rec.SiteID, "error", err)
		}
		e.reportOrphan(ctx, rec)

		if rec.TempDir != "" {
			if err := os.RemoveAll(rec.TempDir); err != nil {
				logger.Warn("Failed to remove orphan temp dir", "dir", rec.TempDir, "error", err)
			}
		}
		if err := e.state.ClearJob(rec.JobID); err != nil {
			logger.Warn("Failed to clear orphan journal entry", "job_id", rec.JobID, "error", err)
		}
	}

	e.sweepStale()
	return nil
}

// reportOrphan records the crashed job as a failed backup so the
// operator sees it, rather than a schedule silently producing nothing.
func (e *Engine) reportOrphan(ctx context.Context, rec *state.JobRecord) {
	started := rec.StartedAt
	_, err := e.client.ReportBackup(ctx, apiclient.BackupReport{
		SiteID:    rec.SiteID,
		Success:   false,
		Filename:  sanitizeName(rec.SiteName) + "_" + rec.StartedAt.Format("20060102_150405") + ".tar.zst",
		Error:     "agent terminated mid-job",
		StartedAt: &started,
	})
	if err != nil {
		logger.Debug("Failed to report orphaned job", "job_id", rec.JobID, "error", err)
	}
}

// sweepStale removes temp dirs nothing claims once they pass the stale
// grace period. Fresh unclaimed dirs survive: they may belong to a job
// started between the journal read and this walk, or a kept failure an
// operator is still inspecting.
func (e *Engine) sweepStale() {
	entries, err := os.ReadDir(e.tempRoot)
	if err != nil {
		logger.Warn("Failed to read temp root", "dir", e.tempRoot, "error", err)
		return
	}

	cutoff := time.Now().Add(-e.cfg.StaleGrace)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(e.tempRoot, entry.Name())
		logger.Info("Sweeping stale temp dir", "dir", dir, "age", time.Since(info.ModTime()).Round(time.Minute))
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Failed to sweep temp dir", "dir", dir, "error", err)
		}
	}
}
