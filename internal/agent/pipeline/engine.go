package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wpfleet/wpfleet/internal/agent/governor"
	"github.com/wpfleet/wpfleet/internal/agent/scanner"
	"github.com/wpfleet/wpfleet/internal/agent/state"
	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
	"github.com/wpfleet/wpfleet/pkg/config"
	"github.com/wpfleet/wpfleet/pkg/metrics"
	"github.com/wpfleet/wpfleet/pkg/models"
)

// defaultEstimate is used when nothing better is known about a site's
// backup size: no cached last run, no master accounting, no hint.
const defaultEstimate = 1 << 30

// Options configures an Engine.
type Options struct {
	Config        config.PipelineConfig
	TempRoot      string
	KeepOnFailure bool
	Client        *apiclient.Client
	Governor      *governor.Governor
	State         *state.Store
	Metrics       *metrics.BackupMetrics
}

// Engine runs backup jobs through the five-stage pipeline and keeps the
// master's progress row current while they run.
type Engine struct {
	cfg           config.PipelineConfig
	tempRoot      string
	keepOnFailure bool
	client        *apiclient.Client
	gov           *governor.Governor
	state         *state.Store
	metrics       *metrics.BackupMetrics
}

// New creates an Engine.
func New(opts Options) *Engine {
	return &Engine{
		cfg:           opts.Config,
		tempRoot:      opts.TempRoot,
		keepOnFailure: opts.KeepOnFailure,
		client:        opts.Client,
		gov:           opts.Governor,
		state:         opts.State,
		metrics:       opts.Metrics,
	}
}

// Run executes one backup job under the given epoch. The epoch must
// have been claimed from the master before calling; Run's progress
// writes are fenced by it. Returns nil on success or the classified
// pipeline error.
func (e *Engine) Run(ctx context.Context, site apiclient.Site, local scanner.Site, epoch int64, estimateHint int64) error {
	job := newJob(site, local, epoch)
	job.TempDir = filepath.Join(e.tempRoot, job.ID)
	job.EstimateBytes = e.estimateSize(site, estimateHint)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rep := newReporter(e.client, site.ID, epoch, cancel)

	e.metrics.JobStarted()
	defer e.metrics.JobFinished()

	logger.Info("Backup job starting",
		"site", site.Name,
		"job_id", job.ID,
		"epoch", epoch,
		"estimate_bytes", job.EstimateBytes,
	)

	if err := e.preflight(jobCtx, job); err != nil {
		perr := classify(err, "preflight", KindFatal)
		e.finishFailure(job, rep, perr)
		return perr
	}

	if err := os.MkdirAll(job.TempDir, 0o700); err != nil {
		perr := fail(KindFatal, "preflight", fmt.Errorf("create temp dir: %w", err))
		e.finishFailure(job, rep, perr)
		return perr
	}
	if err := e.state.JournalJob(&state.JobRecord{
		JobID:     job.ID,
		SiteID:    site.ID,
		SiteName:  site.Name,
		Epoch:     epoch,
		TempDir:   job.TempDir,
		StartedAt: job.StartedAt,
	}); err != nil {
		logger.Warn("Failed to journal job", "job_id", job.ID, "error", err)
	}

	for _, def := range stageOrder {
		rep.enterStage(jobCtx, def)
		start := time.Now()

		err := e.runStage(jobCtx, def, job, func(processed, total int64) {
			rep.progress(jobCtx, processed, total)
		})

		result := "success"
		if err != nil {
			result = "failure"
		}
		e.metrics.ObserveStage(def.name, time.Since(start), result)

		if err != nil {
			perr := classify(err, def.name, KindFatal)
			if _, conflict := rep.aborted(); conflict {
				perr = fail(KindConflict, def.name, perr.Err)
			}
			e.finishFailure(job, rep, perr)
			return perr
		}
		rep.finishStage(def)
	}

	rep.terminal(models.ProgressCompleted, 100, "Backup complete", nil)
	e.reportResult(job, true, "")

	if err := e.state.SetLastBackupSize(site.ID, job.bundleSize); err != nil {
		logger.Warn("Failed to cache backup size", "site_id", site.ID, "error", err)
	}
	if err := e.state.ClearJob(job.ID); err != nil {
		logger.Warn("Failed to clear job journal", "job_id", job.ID, "error", err)
	}

	logger.Info("Backup job complete",
		"site", site.Name,
		"job_id", job.ID,
		"bundle", job.bundleName,
		"bytes", job.bundleSize,
	)
	return nil
}

func (e *Engine) runStage(ctx context.Context, def stageDef, job *Job, report bytesFn) error {
	switch def.name {
	case stageDumpDB:
		return e.runDump(ctx, job, report)
	case stageFiles:
		return e.runFiles(ctx, job, report)
	case stageBundle:
		return e.runBundle(ctx, job, report)
	case stageUpload:
		return e.runUpload(ctx, job, report)
	case stageCleanup:
		return e.runCleanup(ctx, job, report)
	default:
		return fail(KindFatal, def.name, fmt.Errorf("unknown stage %q", def.name))
	}
}

// preflight checks quota with the master and free disk on the temp
// volume. Backups need roughly twice the estimate locally: the raw
// copy plus the bundle.
func (e *Engine) preflight(ctx context.Context, job *Job) error {
	if _, err := e.client.Preflight(ctx, job.Site.ID, job.EstimateBytes); err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.IsQuotaExceeded() {
			return fail(KindQuotaExceeded, "preflight", err)
		}
		return classify(err, "preflight", KindTransient)
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(e.tempRoot, &fs); err != nil {
		return fail(KindFatal, "preflight", fmt.Errorf("statfs %s: %w", e.tempRoot, err))
	}
	free := int64(fs.Bavail) * int64(fs.Bsize)
	if need := 2 * job.EstimateBytes; free < need {
		return fail(KindTransient, "preflight",
			fmt.Errorf("insufficient free disk on %s: %d bytes free, need %d", e.tempRoot, free, need))
	}
	return nil
}

// estimateSize picks the best available size estimate: the cached last
// successful bundle, then the master's accounting, then the caller's
// hint, then a flat 1 GiB.
func (e *Engine) estimateSize(site apiclient.Site, hint int64) int64 {
	if size, err := e.state.LastBackupSize(site.ID); err == nil && size > 0 {
		return size
	}
	if site.StorageUsedBytes > 0 && site.RetentionCopies > 0 {
		if per := site.StorageUsedBytes / int64(site.RetentionCopies); per > 0 {
			return per
		}
	}
	if hint > 0 {
		return hint
	}
	return defaultEstimate
}

// storageConfig fetches the current storage config, falling back to the
// badger cache when the master is unreachable. A fresh fetch also
// re-applies the node's bandwidth limit.
func (e *Engine) storageConfig(ctx context.Context) (*apiclient.StorageConfig, error) {
	cfg, err := e.client.FetchStorageConfig(ctx)
	if err == nil {
		if cerr := e.state.CacheStorageConfig(cfg); cerr != nil {
			logger.Warn("Failed to cache storage config", "error", cerr)
		}
		e.gov.SetBandwidthLimit(cfg.UploadBandwidthLimit)
		return cfg, nil
	}

	logger.Warn("Storage config fetch failed, using cache", "error", err)
	cached, cerr := e.state.CachedStorageConfig()
	if cerr != nil {
		return nil, fmt.Errorf("no storage config available: %w", err)
	}
	return cached, nil
}

// finishFailure writes the terminal progress row, reports the failed
// job to the master and disposes of the temp dir.
func (e *Engine) finishFailure(job *Job, rep *reporter, perr *Error) {
	logger.Error("Backup job failed",
		"site", job.Site.Name,
		"job_id", job.ID,
		"stage", perr.Stage,
		"kind", perr.Kind.String(),
		"error", perr.Err,
	)

	msg := perr.Error()
	switch perr.Kind {
	case KindConflict:
		// Another epoch owns the progress row; leave it alone.
	case KindCancelled:
		rep.terminal(models.ProgressStopped, rep.donePercent(), "Backup stopped", nil)
	default:
		rep.terminal(models.ProgressFailed, rep.donePercent(), msg, &msg)
	}

	// Cancelled jobs leave no Backup row: the STOPPED progress row is
	// the outcome. Conflicts belong to the epoch that won.
	if perr.Kind != KindConflict && perr.Kind != KindCancelled {
		e.reportResult(job, false, msg)
	}

	e.cleanupAfterFailure(job, perr.Kind)
	if err := e.state.ClearJob(job.ID); err != nil {
		logger.Warn("Failed to clear job journal", "job_id", job.ID, "error", err)
	}
}

// reportResult posts the accounting report. Best effort: a lost report
// is repaired by the next reconciliation run.
func (e *Engine) reportResult(job *Job, success bool, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	filename := job.bundleName
	if filename == "" {
		filename = job.bundleFilename()
	}

	started := job.StartedAt
	_, err := e.client.ReportBackup(ctx, apiclient.BackupReport{
		SiteID:    job.Site.ID,
		Success:   success,
		Filename:  filename,
		SizeBytes: job.bundleSize,
		ObjectKey: job.objectKey,
		Error:     errMsg,
		StartedAt: &started,
	})
	if err != nil {
		logger.Error("Failed to report backup", "site_id", job.Site.ID, "error", err)
	}
}
