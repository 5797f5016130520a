// Package reconcile compares the backup catalog against what actually
// sits in each provider's bucket and repairs the catalog side.
//
// Three findings come out of a pass:
//   - missing: a SUCCESS row whose object is gone. The row flips to
//     FAILED so it stops counting as a restorable copy.
//   - orphan: an object no row claims. Reported only; the reconciler
//     never deletes data it cannot attribute.
//   - drift: a site whose recorded usage disagrees with the sum of its
//     live backups by more than the threshold. Usage is recomputed.
//
// A dry run reports all three without writing anything.
package reconcile

import (
	"context"
	"math"
	"time"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/internal/master/settings"
	"github.com/wpfleet/wpfleet/internal/telemetry"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/objstore"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// Bucket is the slice of the object store the reconciler needs.
type Bucket interface {
	ListPrefix(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error)
}

// ClientFactory returns a bucket view for a provider.
type ClientFactory func(ctx context.Context, provider *models.StorageProvider) (Bucket, error)

// Missing is a catalog row whose object has vanished.
type Missing struct {
	BackupID  uint   `json:"backup_id"`
	SiteID    uint   `json:"site_id"`
	ObjectKey string `json:"object_key"`
}

// Drift is a site whose usage counter was (or would be) recomputed.
type Drift struct {
	SiteID        uint    `json:"site_id"`
	RecordedBytes int64   `json:"recorded_bytes"`
	ActualBytes   int64   `json:"actual_bytes"`
	Fraction      float64 `json:"fraction"`
}

// ProviderReport is the findings for one provider's bucket.
type ProviderReport struct {
	ProviderID   uint      `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
	ObjectCount  int       `json:"object_count"`
	Orphans      []string  `json:"orphans,omitempty"`
	Missing      []Missing `json:"missing,omitempty"`
	Drifted      []Drift   `json:"drifted,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	DryRun    bool             `json:"dry_run"`
	Providers []ProviderReport `json:"providers"`
}

// RunInterval is how often the periodic reconciliation pass runs.
const RunInterval = 24 * time.Hour

// Reconciler runs catalog-vs-bucket passes.
type Reconciler struct {
	store    *store.Store
	settings *settings.Service
	clients  ClientFactory
}

// New creates a reconciler.
func New(st *store.Store, set *settings.Service, clients ClientFactory) *Reconciler {
	return &Reconciler{store: st, settings: set, clients: clients}
}

// Run reconciles every active provider. A provider whose bucket cannot
// be listed is reported with an error and skipped, not fatal to the pass.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "reconcile.run")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.DryRun(dryRun))

	providers, err := r.store.ListActiveProviders(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	report := &Report{DryRun: dryRun}
	for _, p := range providers {
		pr := r.reconcileProvider(ctx, p, dryRun)
		report.Providers = append(report.Providers, pr)
	}
	return report, nil
}

// RunPeriodic executes repairing passes on RunInterval ticks until the
// context is cancelled. Operators still get immediate passes through
// the on-demand endpoint.
func (r *Reconciler) RunPeriodic(ctx context.Context) {
	ticker := time.NewTicker(RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runScheduled(ctx)
		}
	}
}

// runScheduled is one periodic pass: run repairing, log the findings.
func (r *Reconciler) runScheduled(ctx context.Context) {
	report, err := r.Run(ctx, false)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Reconciliation pass failed", "error", err)
		}
		return
	}
	for _, pr := range report.Providers {
		if pr.Error != "" {
			logger.Error("Provider reconciliation failed", "provider", pr.ProviderName, "error", pr.Error)
			continue
		}
		if len(pr.Missing) > 0 || len(pr.Orphans) > 0 || len(pr.Drifted) > 0 {
			logger.Warn("Reconciliation repaired catalog",
				"provider", pr.ProviderName,
				"missing", len(pr.Missing),
				"orphans", len(pr.Orphans),
				"drifted", len(pr.Drifted),
			)
		}
	}
}

func (r *Reconciler) reconcileProvider(ctx context.Context, p *models.StorageProvider, dryRun bool) ProviderReport {
	ctx, span := telemetry.StartProviderSpan(ctx, "reconcile.provider", p.ID, p.Name)
	defer span.End()

	pr := ProviderReport{ProviderID: p.ID, ProviderName: p.Name}

	bucket, err := r.clients(ctx, p)
	if err != nil {
		pr.Error = err.Error()
		return pr
	}
	objects, err := bucket.ListPrefix(ctx, "")
	if err != nil {
		pr.Error = err.Error()
		return pr
	}
	pr.ObjectCount = len(objects)

	present := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		present[obj.Key] = struct{}{}
	}

	rows, err := r.store.ListBackupsForProvider(ctx, p.ID)
	if err != nil {
		pr.Error = err.Error()
		return pr
	}

	claimed := make(map[string]struct{}, len(rows))
	driftSites := make(map[uint]struct{})
	for _, b := range rows {
		if b.ObjectKey != "" {
			claimed[b.ObjectKey] = struct{}{}
		}
		if b.Status != models.BackupSuccess {
			continue
		}
		if _, ok := present[b.ObjectKey]; ok {
			continue
		}

		pr.Missing = append(pr.Missing, Missing{BackupID: b.ID, SiteID: b.SiteID, ObjectKey: b.ObjectKey})
		driftSites[b.SiteID] = struct{}{}
		if dryRun {
			continue
		}
		if err := r.store.MarkBackupMissing(ctx, b.ID, "object missing from storage provider"); err != nil {
			logger.Error("Failed to mark backup missing", "backup", b.ID, "error", err)
		}
	}

	for _, obj := range objects {
		if _, ok := claimed[obj.Key]; !ok {
			pr.Orphans = append(pr.Orphans, obj.Key)
		}
	}

	drifted, err := r.repairDrift(ctx, driftSites, dryRun)
	if err != nil {
		pr.Error = err.Error()
		return pr
	}
	pr.Drifted = drifted
	return pr
}

// repairDrift recomputes usage for sites whose counters have drifted
// past the threshold, plus any site that just lost a backup to a
// missing object.
func (r *Reconciler) repairDrift(ctx context.Context, forced map[uint]struct{}, dryRun bool) ([]Drift, error) {
	threshold, err := r.settings.DriftThreshold(ctx)
	if err != nil {
		return nil, err
	}

	sites, err := r.store.ListSites(ctx)
	if err != nil {
		return nil, err
	}

	var drifted []Drift
	for _, site := range sites {
		actual, err := r.store.SumSiteUsage(ctx, site.ID)
		if err != nil {
			return drifted, err
		}

		_, force := forced[site.ID]
		fraction := driftFraction(site.StorageUsedBytes, actual)
		if !force && fraction <= threshold {
			continue
		}

		drifted = append(drifted, Drift{
			SiteID:        site.ID,
			RecordedBytes: site.StorageUsedBytes,
			ActualBytes:   actual,
			Fraction:      fraction,
		})
		if dryRun {
			continue
		}
		if _, err := r.store.RecomputeUsage(ctx, site.ID); err != nil {
			logger.Error("Usage recompute failed", "site", site.ID, "error", err)
		}
	}
	return drifted, nil
}

// driftFraction is |recorded-actual| relative to the larger of the two.
// Both zero means no drift.
func driftFraction(recorded, actual int64) float64 {
	if recorded == actual {
		return 0
	}
	denom := math.Max(float64(recorded), float64(actual))
	if denom <= 0 {
		return 1
	}
	return math.Abs(float64(recorded-actual)) / denom
}
