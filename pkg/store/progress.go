package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wpfleet/wpfleet/pkg/models"
)

// ============================================
// PROGRESS ROW OPERATIONS
// ============================================
//
// One live row per site, compare-and-set on epoch. Starting a job
// increments the epoch and resets every field atomically; updates
// carrying a stale epoch are dropped. Terminal states are sticky until
// the next start.

// GetProgress returns the site's live row, or a synthetic idle row if
// the site has never run a backup.
func (s *Store) GetProgress(ctx context.Context, siteID uint) (*models.BackupProgress, error) {
	var row models.BackupProgress
	err := s.db.WithContext(ctx).Where("site_id = ?", siteID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.BackupProgress{SiteID: siteID, State: models.ProgressIdle}, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListPendingProgress returns the node's RUNNING rows no engine has
// touched yet: started by an operator, stage still empty. The agent
// polls these to pick up operator-initiated jobs.
func (s *Store) ListPendingProgress(ctx context.Context, nodeID uint) ([]*models.BackupProgress, error) {
	var rows []*models.BackupProgress
	err := s.db.WithContext(ctx).
		Joins("JOIN sites ON sites.id = backup_progress.site_id").
		Where("sites.node_id = ? AND backup_progress.state = ? AND backup_progress.stage = ''",
			nodeID, models.ProgressRunning).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// StartProgress begins a new job for the site. Returns the new epoch, or
// ErrBackupRunning if a job is already RUNNING (the row is untouched).
func (s *Store) StartProgress(ctx context.Context, siteID uint) (int64, error) {
	var epoch int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.BackupProgress
		err := s.lockForUpdate(tx).Where("site_id = ?", siteID).First(&row).Error
		now := time.Now()

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.BackupProgress{
				SiteID:    siteID,
				Epoch:     1,
				State:     models.ProgressRunning,
				StartedAt: &now,
			}
			epoch = 1
			return tx.Create(&row).Error
		case err != nil:
			return err
		}

		if row.State == models.ProgressRunning {
			return models.ErrBackupRunning
		}

		epoch = row.Epoch + 1
		return tx.Model(&row).Updates(map[string]any{
			"epoch":            epoch,
			"state":            models.ProgressRunning,
			"percent":          0,
			"stage":            "",
			"message":          "",
			"bytes_processed":  0,
			"bytes_total":      0,
			"error":            nil,
			"cancel_requested": false,
			"started_at":       now,
		}).Error
	})
	return epoch, err
}

// UpdateProgress applies a progress write carrying the given epoch.
// Writes from a prior epoch, or into a terminal state, are rejected with
// ErrStaleEpoch so a zombie job can never corrupt a fresh row.
func (s *Store) UpdateProgress(ctx context.Context, siteID uint, epoch int64, update *models.BackupProgress) (*models.BackupProgress, error) {
	var row models.BackupProgress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockForUpdate(tx).Where("site_id = ?", siteID).First(&row).Error; err != nil {
			return convertNotFoundError(err, models.ErrProgressNotFound)
		}
		if row.Epoch != epoch || row.State.IsTerminal() {
			return models.ErrStaleEpoch
		}

		updates := map[string]any{
			"state":           update.State,
			"percent":         clampPercent(update.Percent),
			"stage":           update.Stage,
			"message":         update.Message,
			"bytes_processed": update.BytesProcessed,
			"bytes_total":     update.BytesTotal,
			"error":           update.Error,
		}
		if err := tx.Model(&row).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("site_id = ?", siteID).First(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RequestCancel raises the cooperative cancellation flag on a RUNNING
// row. Idempotent; a no-op on non-running rows.
func (s *Store) RequestCancel(ctx context.Context, siteID uint) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.BackupProgress{}).
		Where("site_id = ? AND state = ?", siteID, models.ProgressRunning).
		Update("cancel_requested", true)
	return result.RowsAffected > 0, result.Error
}

// CancelRequested reads the cancellation flag for a site's current job.
func (s *Store) CancelRequested(ctx context.Context, siteID uint, epoch int64) (bool, error) {
	var row models.BackupProgress
	err := s.db.WithContext(ctx).Where("site_id = ?", siteID).First(&row).Error
	if err != nil {
		return false, convertNotFoundError(err, models.ErrProgressNotFound)
	}
	return row.Epoch == epoch && row.CancelRequested, nil
}

// ResetProgress forcibly moves a row to IDLE, bumping the epoch so any
// straggling writer from the old job is fenced out. Refuses to reset a
// row that is RUNNING unless force is set (the reset-stuck endpoint
// verifies no live job first).
func (s *Store) ResetProgress(ctx context.Context, siteID uint, force bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.BackupProgress
		if err := s.lockForUpdate(tx).Where("site_id = ?", siteID).First(&row).Error; err != nil {
			return convertNotFoundError(err, models.ErrProgressNotFound)
		}
		if row.State == models.ProgressRunning && !force {
			return models.ErrBackupRunning
		}
		return tx.Model(&row).Updates(map[string]any{
			"epoch":            row.Epoch + 1,
			"state":            models.ProgressIdle,
			"percent":          0,
			"stage":            "",
			"message":          "",
			"bytes_processed":  0,
			"bytes_total":      0,
			"error":            nil,
			"cancel_requested": false,
			"started_at":       nil,
		}).Error
	})
}

// SweepAbandonedProgress fails RUNNING rows older than the grace period.
// Returns the site ids swept. Run on master start and periodically; the
// agent performs the matching temp-dir sweep.
func (s *Store) SweepAbandonedProgress(ctx context.Context, olderThan time.Duration) ([]uint, error) {
	cutoff := time.Now().Add(-olderThan)
	var rows []models.BackupProgress
	if err := s.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", models.ProgressRunning, cutoff).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	swept := make([]uint, 0, len(rows))
	msg := "abandoned"
	for _, row := range rows {
		err := s.db.WithContext(ctx).
			Model(&models.BackupProgress{}).
			Where("site_id = ? AND epoch = ? AND state = ?", row.SiteID, row.Epoch, models.ProgressRunning).
			Updates(map[string]any{
				"state": models.ProgressFailed,
				"error": &msg,
			}).Error
		if err != nil {
			return swept, err
		}
		swept = append(swept, row.SiteID)
	}
	return swept, nil
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
