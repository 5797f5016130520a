package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
	"github.com/wpfleet/wpfleet/pkg/models"
)

// pushInterval throttles progress writes toward the master. Stage
// transitions and terminal states always push.
const pushInterval = 250 * time.Millisecond

// reporter pushes this job's progress rows and watches the responses
// for the master's cancellation flag. Losing the epoch race or seeing a
// cancel request cancels the job context, so stages unwind through
// their normal context checks.
type reporter struct {
	client    *apiclient.Client
	siteID    uint
	epoch     int64
	cancelJob context.CancelFunc

	mu         sync.Mutex
	lastPush   time.Time
	doneWeight int
	current    stageDef
	cancelled  bool
	conflict   bool
}

func newReporter(client *apiclient.Client, siteID uint, epoch int64, cancelJob context.CancelFunc) *reporter {
	return &reporter{client: client, siteID: siteID, epoch: epoch, cancelJob: cancelJob}
}

// enterStage marks a stage as running and pushes immediately.
func (r *reporter) enterStage(ctx context.Context, def stageDef) {
	r.mu.Lock()
	r.current = def
	r.mu.Unlock()
	r.push(ctx, true, 0, 0)
}

// progress reports the running stage's byte counters, throttled.
func (r *reporter) progress(ctx context.Context, processed, total int64) {
	r.push(ctx, false, processed, total)
}

// finishStage folds the stage's full weight into the done total.
func (r *reporter) finishStage(def stageDef) {
	r.mu.Lock()
	r.doneWeight += def.weight
	r.mu.Unlock()
}

// aborted reports whether the master asked for this job to stop or a
// newer epoch took over the progress row.
func (r *reporter) aborted() (cancelled, conflict bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled, r.conflict
}

// donePercent is the percent covered by fully finished stages.
func (r *reporter) donePercent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneWeight
}

// terminal writes the final row. Uses its own context so a cancelled
// job can still report how it ended.
func (r *reporter) terminal(state models.ProgressState, percent int, message string, errMsg *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := r.client.PushProgress(ctx, r.siteID, apiclient.ProgressUpdate{
		Epoch:   r.epoch,
		State:   string(state),
		Percent: percent,
		Message: message,
		Error:   errMsg,
	})
	if err != nil {
		logger.Warn("Failed to push terminal progress", "site_id", r.siteID, "state", state, "error", err)
	}
}

func (r *reporter) push(ctx context.Context, force bool, processed, total int64) {
	r.mu.Lock()
	now := time.Now()
	if !force && now.Sub(r.lastPush) < pushInterval {
		r.mu.Unlock()
		return
	}
	r.lastPush = now

	percent := r.doneWeight
	if total > 0 {
		fraction := float64(processed) / float64(total)
		if fraction > 1 {
			fraction = 1
		}
		percent += int(fraction * float64(r.current.weight))
	}
	stage := r.current.name
	r.mu.Unlock()

	row, err := r.client.PushProgress(ctx, r.siteID, apiclient.ProgressUpdate{
		Epoch:          r.epoch,
		State:          string(models.ProgressRunning),
		Percent:        percent,
		Stage:          stage,
		BytesProcessed: processed,
		BytesTotal:     total,
	})
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.IsConflict() {
			// A newer job owns the row; stop touching it.
			r.mu.Lock()
			r.conflict = true
			r.mu.Unlock()
			r.cancelJob()
			return
		}
		// Transient push failures must not kill the job; the next
		// push or the terminal write will catch the master up.
		logger.Debug("Progress push failed", "site_id", r.siteID, "error", err)
		return
	}

	if row.CancelRequested {
		r.mu.Lock()
		already := r.cancelled
		r.cancelled = true
		r.mu.Unlock()
		if !already {
			logger.Info("Cancellation requested by master", "site_id", r.siteID)
			r.cancelJob()
		}
	}
}
