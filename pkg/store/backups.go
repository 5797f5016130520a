package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/wpfleet/wpfleet/pkg/models"
)

// ============================================
// BACKUP OPERATIONS
// ============================================

func (s *Store) GetBackup(ctx context.Context, id uint) (*models.Backup, error) {
	return getByField[models.Backup](s.db, ctx, "id", id, models.ErrBackupNotFound, "Site", "Site.Node", "Provider")
}

func (s *Store) GetBackupByUUID(ctx context.Context, uuid string) (*models.Backup, error) {
	return getByField[models.Backup](s.db, ctx, "uuid", uuid, models.ErrBackupNotFound, "Site", "Site.Node", "Provider")
}

// ListBackupsForSite returns a page of a site's backups, newest first.
// Deleted records are excluded.
func (s *Store) ListBackupsForSite(ctx context.Context, siteID uint, offset, limit int) ([]*models.Backup, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	q := s.db.WithContext(ctx).
		Model(&models.Backup{}).
		Where("site_id = ? AND status <> ?", siteID, models.BackupDeleted)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var backups []*models.Backup
	if err := q.Preload("Provider").
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&backups).Error; err != nil {
		return nil, 0, err
	}
	if backups == nil {
		backups = []*models.Backup{}
	}
	return backups, total, nil
}

// ListBackupsForProvider returns all non-deleted backups stored with a
// provider. The reconciler walks these against the provider's bucket.
func (s *Store) ListBackupsForProvider(ctx context.Context, providerID uint) ([]*models.Backup, error) {
	var backups []*models.Backup
	if err := s.db.WithContext(ctx).
		Where("provider_id = ? AND status <> ?", providerID, models.BackupDeleted).
		Find(&backups).Error; err != nil {
		return nil, err
	}
	return backups, nil
}

// LastSuccessfulBackup returns the site's most recent SUCCESS backup,
// or ErrBackupNotFound if it has none. Quota admission uses the size as
// the projection for the next run.
func (s *Store) LastSuccessfulBackup(ctx context.Context, siteID uint) (*models.Backup, error) {
	var b models.Backup
	err := s.db.WithContext(ctx).
		Where("site_id = ? AND status = ?", siteID, models.BackupSuccess).
		Order("created_at DESC").
		First(&b).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrBackupNotFound)
	}
	return &b, nil
}

// SumSiteUsage returns the bytes counting toward a site's usage:
// the sum over SUCCESS backups.
func (s *Store) SumSiteUsage(ctx context.Context, siteID uint) (int64, error) {
	var sum int64
	err := s.db.WithContext(ctx).
		Model(&models.Backup{}).
		Where("site_id = ? AND status = ?", siteID, models.BackupSuccess).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&sum).Error
	return sum, err
}

// RecordBackupSuccess performs the post-flight accounting transaction:
// insert the Backup row and increment site, node and provider usage
// counters atomically. The site row is locked to serialize concurrent
// completions. Sets or clears quota_exceeded_at from the new usage.
func (s *Store) RecordBackupSuccess(ctx context.Context, backup *models.Backup) error {
	if err := backup.Validate(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var site models.Site
		if err := s.lockForUpdate(tx).Where("id = ?", backup.SiteID).First(&site).Error; err != nil {
			return convertNotFoundError(err, models.ErrSiteNotFound)
		}

		if err := createWithUUID(tx, ctx, backup, backup.UUID, func(b *models.Backup, id string) { b.UUID = id }, models.ErrBackupNotFound); err != nil {
			return err
		}

		newUsed := site.StorageUsedBytes + backup.SizeBytes
		siteUpdates := map[string]any{"storage_used_bytes": newUsed}
		if site.StorageQuotaBytes > 0 && newUsed > site.StorageQuotaBytes {
			if site.QuotaExceededAt == nil {
				siteUpdates["quota_exceeded_at"] = time.Now()
			}
		} else {
			siteUpdates["quota_exceeded_at"] = nil
		}
		if err := tx.Model(&site).Updates(siteUpdates).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Node{}).
			Where("id = ?", site.NodeID).
			Update("storage_used_bytes", gorm.Expr("storage_used_bytes + ?", backup.SizeBytes)).Error; err != nil {
			return err
		}

		if backup.ProviderID != nil {
			if err := tx.Model(&models.StorageProvider{}).
				Where("id = ?", *backup.ProviderID).
				Update("storage_used_bytes", gorm.Expr("storage_used_bytes + ?", backup.SizeBytes)).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// RecordBackupFailure inserts a FAILED record. Failed backups carry no
// object and contribute nothing to accounting.
func (s *Store) RecordBackupFailure(ctx context.Context, backup *models.Backup) error {
	backup.Status = models.BackupFailed
	backup.ObjectKey = ""
	return createWithUUID(s.db, ctx, backup, backup.UUID, func(b *models.Backup, id string) { b.UUID = id }, models.ErrBackupNotFound)
}

// MarkRetentionExcess marks the oldest SUCCESS backups beyond keep with a
// scheduled deletion at now+grace. Backups already scheduled keep their
// original deadline. Returns the rows newly scheduled.
func (s *Store) MarkRetentionExcess(ctx context.Context, siteID uint, keep int, grace time.Duration) ([]*models.Backup, error) {
	if keep <= 0 {
		keep = 1
	}

	var live []*models.Backup
	if err := s.db.WithContext(ctx).
		Where("site_id = ? AND status = ?", siteID, models.BackupSuccess).
		Order("created_at DESC").
		Find(&live).Error; err != nil {
		return nil, err
	}
	if len(live) <= keep {
		return nil, nil
	}

	deadline := time.Now().Add(grace)
	var scheduled []*models.Backup
	for _, b := range live[keep:] {
		if b.ScheduledDeletion != nil {
			continue
		}
		if err := s.db.WithContext(ctx).
			Model(b).
			Update("scheduled_deletion", deadline).Error; err != nil {
			return scheduled, err
		}
		b.ScheduledDeletion = &deadline
		scheduled = append(scheduled, b)
	}
	return scheduled, nil
}

// ListScheduledDeletions returns non-deleted backups with a pending
// scheduled deletion, soonest first.
func (s *Store) ListScheduledDeletions(ctx context.Context) ([]*models.Backup, error) {
	var backups []*models.Backup
	if err := s.db.WithContext(ctx).
		Preload("Site").Preload("Site.Node").Preload("Provider").
		Where("scheduled_deletion IS NOT NULL AND status <> ?", models.BackupDeleted).
		Order("scheduled_deletion ASC").
		Find(&backups).Error; err != nil {
		return nil, err
	}
	if backups == nil {
		backups = []*models.Backup{}
	}
	return backups, nil
}

// ListOverdueDeletions returns backups whose scheduled deletion is due.
func (s *Store) ListOverdueDeletions(ctx context.Context, now time.Time) ([]*models.Backup, error) {
	var backups []*models.Backup
	if err := s.db.WithContext(ctx).
		Preload("Site").Preload("Site.Node").Preload("Provider").
		Where("scheduled_deletion IS NOT NULL AND scheduled_deletion <= ? AND status <> ?", now, models.BackupDeleted).
		Find(&backups).Error; err != nil {
		return nil, err
	}
	return backups, nil
}

// CancelScheduledDeletion clears a pending deletion so the backup is
// retained and stays in accounting.
func (s *Store) CancelScheduledDeletion(ctx context.Context, backupID uint) error {
	result := s.db.WithContext(ctx).
		Model(&models.Backup{}).
		Where("id = ? AND scheduled_deletion IS NOT NULL", backupID).
		Update("scheduled_deletion", nil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrBackupNotFound
	}
	return nil
}

// MarkBackupDeleted transitions a backup to DELETED and decrements the
// usage counters it contributed to. Idempotent: a second call is a
// no-op. The object-store blob must already be gone; callers delete the
// blob first and only then commit the row (a blob-delete failure leaves
// the row pending for retry).
func (s *Store) MarkBackupDeleted(ctx context.Context, backupID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b models.Backup
		if err := tx.Where("id = ?", backupID).First(&b).Error; err != nil {
			return convertNotFoundError(err, models.ErrBackupNotFound)
		}
		if b.Status == models.BackupDeleted {
			return nil
		}
		counted := b.CountsTowardUsage()

		if err := tx.Model(&b).Updates(map[string]any{
			"status":             models.BackupDeleted,
			"scheduled_deletion": nil,
		}).Error; err != nil {
			return err
		}
		if !counted {
			return nil
		}

		var site models.Site
		if err := s.lockForUpdate(tx).Where("id = ?", b.SiteID).First(&site).Error; err != nil {
			return convertNotFoundError(err, models.ErrSiteNotFound)
		}

		newUsed := site.StorageUsedBytes - b.SizeBytes
		if newUsed < 0 {
			newUsed = 0
		}
		siteUpdates := map[string]any{"storage_used_bytes": newUsed}
		if site.StorageQuotaBytes == 0 || newUsed <= site.StorageQuotaBytes {
			siteUpdates["quota_exceeded_at"] = nil
		}
		if err := tx.Model(&site).Updates(siteUpdates).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Node{}).
			Where("id = ? AND storage_used_bytes >= ?", site.NodeID, b.SizeBytes).
			Update("storage_used_bytes", gorm.Expr("storage_used_bytes - ?", b.SizeBytes)).Error; err != nil {
			return err
		}

		if b.ProviderID != nil {
			if err := tx.Model(&models.StorageProvider{}).
				Where("id = ? AND storage_used_bytes >= ?", *b.ProviderID, b.SizeBytes).
				Update("storage_used_bytes", gorm.Expr("storage_used_bytes - ?", b.SizeBytes)).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// MarkBackupMissing flags a SUCCESS backup whose object no longer exists
// in the store. The row flips to FAILED and leaves accounting; usage
// recomputation is the reconciler's job.
func (s *Store) MarkBackupMissing(ctx context.Context, backupID uint, reason string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Backup{}).
		Where("id = ? AND status = ?", backupID, models.BackupSuccess).
		Updates(map[string]any{
			"status":        models.BackupFailed,
			"error_message": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrBackupNotFound
	}
	return nil
}

// RecomputeUsage resets a site's storage_used_bytes from its SUCCESS
// backups and folds the delta into the node counter. Used by the
// reconciler after drift repair.
func (s *Store) RecomputeUsage(ctx context.Context, siteID uint) (int64, error) {
	var used int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var site models.Site
		if err := s.lockForUpdate(tx).Where("id = ?", siteID).First(&site).Error; err != nil {
			return convertNotFoundError(err, models.ErrSiteNotFound)
		}

		if err := tx.Model(&models.Backup{}).
			Where("site_id = ? AND status = ?", siteID, models.BackupSuccess).
			Select("COALESCE(SUM(size_bytes), 0)").
			Scan(&used).Error; err != nil {
			return err
		}

		delta := used - site.StorageUsedBytes
		updates := map[string]any{"storage_used_bytes": used}
		if site.StorageQuotaBytes == 0 || used <= site.StorageQuotaBytes {
			updates["quota_exceeded_at"] = nil
		}
		if err := tx.Model(&site).Updates(updates).Error; err != nil {
			return err
		}

		var node models.Node
		if err := s.lockForUpdate(tx).Where("id = ?", site.NodeID).First(&node).Error; err != nil {
			return convertNotFoundError(err, models.ErrNodeNotFound)
		}
		nodeUsed := node.StorageUsedBytes + delta
		if nodeUsed < 0 {
			nodeUsed = 0
		}
		return tx.Model(&node).Update("storage_used_bytes", nodeUsed).Error
	})
	return used, err
}
