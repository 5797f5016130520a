// Package retention ages out backups beyond each site's keep count.
//
// Excess copies are never removed immediately: they are scheduled for
// deletion after a grace window so an operator can still restore or
// rescue them. The worker deletes the object-store blob first and only
// then commits the row transition, so a blob-delete failure leaves the
// record pending and the next sweep retries it.
package retention

import (
	"context"
	"time"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/internal/master/settings"
	"github.com/wpfleet/wpfleet/internal/telemetry"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// SweepInterval is how often the deletion worker scans for overdue rows.
const SweepInterval = 15 * time.Minute

// BlobDeleter removes one object from a provider's bucket.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// ClientFactory returns a blob deleter for a provider. The master wires
// this to objstore.NewForProvider; tests substitute fakes.
type ClientFactory func(ctx context.Context, provider *models.StorageProvider) (BlobDeleter, error)

// Worker applies retention policy and executes due deletions.
type Worker struct {
	store    *store.Store
	settings *settings.Service
	clients  ClientFactory
}

// NewWorker creates a retention worker.
func NewWorker(st *store.Store, set *settings.Service, clients ClientFactory) *Worker {
	return &Worker{store: st, settings: set, clients: clients}
}

// Apply marks a site's excess backups for deletion. Called after each
// successful backup and from the periodic sweep. Returns the rows newly
// scheduled.
func (w *Worker) Apply(ctx context.Context, siteID uint) ([]*models.Backup, error) {
	site, err := w.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}

	grace, err := w.settings.RetentionGrace(ctx, &site.NodeID, &site.ID)
	if err != nil {
		return nil, err
	}

	scheduled, err := w.store.MarkRetentionExcess(ctx, siteID, site.EffectiveRetention(), grace)
	if err != nil {
		return nil, err
	}
	for _, b := range scheduled {
		logger.Info("Backup scheduled for deletion",
			"site", site.Name, "backup", b.Filename, "deadline", b.ScheduledDeletion)
	}
	return scheduled, nil
}

// ApplyAll runs retention marking across every site.
func (w *Worker) ApplyAll(ctx context.Context) error {
	sites, err := w.store.ListSites(ctx)
	if err != nil {
		return err
	}
	for _, site := range sites {
		if _, err := w.Apply(ctx, site.ID); err != nil {
			logger.Error("Retention marking failed", "site", site.Name, "error", err)
		}
	}
	return nil
}

// SweepDue deletes every backup whose grace window has passed. Blob
// first, row second. Returns the number of backups deleted.
func (w *Worker) SweepDue(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "retention.sweep")
	defer span.End()

	due, err := w.store.ListOverdueDeletions(ctx, time.Now())
	if err != nil {
		telemetry.RecordError(ctx, err)
		return 0, err
	}

	deleted := 0
	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := w.deleteOne(ctx, b); err != nil {
			logger.Error("Backup deletion failed; will retry next sweep",
				"backup", b.Filename, "error", err)
			continue
		}
		deleted++
	}
	telemetry.SetAttributes(ctx, telemetry.DeletedCount(deleted))
	return deleted, nil
}

func (w *Worker) deleteOne(ctx context.Context, b *models.Backup) error {
	ctx, span := telemetry.StartBackupSpan(ctx, "retention.delete", b.ID, telemetry.ObjectKey(b.ObjectKey))
	defer span.End()

	// Blobless rows (failed uploads, already-gone objects) just commit.
	if b.ObjectKey != "" && b.Provider != nil {
		client, err := w.clients(ctx, b.Provider)
		if err != nil {
			return err
		}
		if err := client.Delete(ctx, b.ObjectKey); err != nil {
			return err
		}
	}

	if err := w.store.MarkBackupDeleted(ctx, b.ID); err != nil {
		return err
	}
	logger.Info("Backup deleted", "backup", b.Filename, "size", b.SizeBytes)
	return nil
}

// Run executes the periodic sweep loop until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ApplyAll(ctx); err != nil {
				logger.Error("Retention pass failed", "error", err)
			}
			if _, err := w.SweepDue(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Deletion sweep failed", "error", err)
			}
		}
	}
}
