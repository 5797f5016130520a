package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BackupMetrics records pipeline outcomes on the agent and accounting
// events on the master.
type BackupMetrics struct {
	stageDuration  *prometheus.HistogramVec
	stageResults   *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	quotaDenials   *prometheus.CounterVec
	reconcileDrift prometheus.Gauge
	jobsActive     prometheus.Gauge
}

// NewBackupMetrics creates the backup collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBackupMetrics() *BackupMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()
	return &BackupMetrics{
		stageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "wpfleet_backup_stage_duration_seconds",
				Help: "Duration of pipeline stages in seconds",
				Buckets: []float64{
					1, 5, 15, 60,
					300,  // 5m - large database dumps
					900,  // 15m
					3600, // 1h - stage timeout for dumps
				},
			},
			[]string{"stage"},
		),
		stageResults: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wpfleet_backup_stage_results_total",
				Help: "Pipeline stage completions by stage and result",
			},
			[]string{"stage", "result"},
		),
		uploadBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wpfleet_backup_upload_bytes_total",
				Help: "Total bytes uploaded to remote storage",
			},
		),
		quotaDenials: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wpfleet_quota_denials_total",
				Help: "Pre-flight quota denials by exceeded bound",
			},
			[]string{"bound"},
		),
		reconcileDrift: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "wpfleet_reconcile_drift_ratio",
				Help: "Largest relative usage drift seen by the last reconciliation run",
			},
		),
		jobsActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "wpfleet_backup_jobs_active",
				Help: "Backup jobs currently running",
			},
		),
	}
}

// ObserveStage records a finished pipeline stage. Nil-safe.
func (m *BackupMetrics) ObserveStage(stage string, d time.Duration, result string) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.stageResults.WithLabelValues(stage, result).Inc()
}

// AddUploadBytes counts bytes shipped to remote storage. Nil-safe.
func (m *BackupMetrics) AddUploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.Add(float64(n))
}

// QuotaDenied counts a pre-flight rejection. Nil-safe.
func (m *BackupMetrics) QuotaDenied(bound string) {
	if m == nil {
		return
	}
	m.quotaDenials.WithLabelValues(bound).Inc()
}

// SetReconcileDrift publishes the worst drift from a reconcile run. Nil-safe.
func (m *BackupMetrics) SetReconcileDrift(ratio float64) {
	if m == nil {
		return
	}
	m.reconcileDrift.Set(ratio)
}

// JobStarted and JobFinished track the live job gauge. Nil-safe.
func (m *BackupMetrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsActive.Inc()
}

// JobFinished decrements the live job gauge. Nil-safe.
func (m *BackupMetrics) JobFinished() {
	if m == nil {
		return
	}
	m.jobsActive.Dec()
}
