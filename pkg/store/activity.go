package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/wpfleet/wpfleet/pkg/models"
)

// ============================================
// ACTIVITY LOG OPERATIONS
// ============================================

// AppendActivity inserts an audit entry and prunes the actor's history
// down to the per-user cap. Entries without a user are never pruned by
// this path; they age out with the log files.
func (s *Store) AppendActivity(ctx context.Context, entry *models.ActivityLog) error {
	if len(entry.UserAgent) > models.MaxUserAgentLength {
		entry.UserAgent = entry.UserAgent[:models.MaxUserAgentLength]
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if entry.UserID == nil {
			return nil
		}

		// Keep only the most recent MaxActivityPerUser rows per user.
		var cutoff models.ActivityLog
		err := tx.Where("user_id = ?", *entry.UserID).
			Order("id DESC").
			Offset(models.MaxActivityPerUser).
			First(&cutoff).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		return tx.Where("user_id = ? AND id <= ?", *entry.UserID, cutoff.ID).
			Delete(&models.ActivityLog{}).Error
	})
}

// ListActivityForUser returns a user's entries, newest first.
func (s *Store) ListActivityForUser(ctx context.Context, userID uint, limit int) ([]*models.ActivityLog, error) {
	if limit <= 0 || limit > models.MaxActivityPerUser {
		limit = models.MaxActivityPerUser
	}
	var entries []*models.ActivityLog
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*models.ActivityLog{}
	}
	return entries, nil
}
