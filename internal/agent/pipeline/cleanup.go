package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/wpfleet/wpfleet/internal/logger"
)

// runCleanup removes the job's temp directory. Runs as the last stage
// on success; failure paths go through cleanupAfterFailure instead so
// --keep-on-failure can hold the evidence.
func (e *Engine) runCleanup(_ context.Context, job *Job, report bytesFn) error {
	if err := os.RemoveAll(job.TempDir); err != nil {
		return fail(KindFatal, stageCleanup, fmt.Errorf("remove temp dir: %w", err))
	}
	report(1, 1)
	return nil
}

// cleanupAfterFailure disposes of a failed job's temp dir. Fatal
// failures keep it when the operator asked, so the half-built bundle
// can be inspected.
func (e *Engine) cleanupAfterFailure(job *Job, kind Kind) {
	if e.keepOnFailure && kind == KindFatal {
		logger.Warn("Keeping temp dir for inspection",
			"site", job.Site.Name,
			"dir", job.TempDir,
		)
		return
	}
	if err := os.RemoveAll(job.TempDir); err != nil {
		logger.Warn("Failed to remove temp dir", "dir", job.TempDir, "error", err)
	}
}
