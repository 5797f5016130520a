package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wpfleet/wpfleet/pkg/models"
)

// ============================================
// SITE OPERATIONS
// ============================================

func (s *Store) GetSite(ctx context.Context, id uint) (*models.Site, error) {
	return getByField[models.Site](s.db, ctx, "id", id, models.ErrSiteNotFound, "Node")
}

func (s *Store) GetSiteByUUID(ctx context.Context, uuid string) (*models.Site, error) {
	return getByField[models.Site](s.db, ctx, "uuid", uuid, models.ErrSiteNotFound, "Node")
}

func (s *Store) ListSites(ctx context.Context) ([]*models.Site, error) {
	return listAll[models.Site](s.db, ctx, "Node")
}

// ListSitesForNode lists all sites registered on one node.
func (s *Store) ListSitesForNode(ctx context.Context, nodeID uint) ([]*models.Site, error) {
	var sites []*models.Site
	if err := s.db.WithContext(ctx).
		Preload("Node").
		Where("node_id = ?", nodeID).
		Find(&sites).Error; err != nil {
		return nil, err
	}
	if sites == nil {
		sites = []*models.Site{}
	}
	return sites, nil
}

// ListSitesForUser lists sites visible to the given user per the RBAC
// matrix: everything for super admins, sites on assigned nodes for node
// admins, only assigned sites for site admins.
func (s *Store) ListSitesForUser(ctx context.Context, user *models.User) ([]*models.Site, error) {
	var sites []*models.Site
	q := s.db.WithContext(ctx).Preload("Node")

	switch user.Role {
	case models.RoleSuperAdmin:
		// no filter
	case models.RoleNodeAdmin:
		q = q.Joins("JOIN user_nodes ON user_nodes.node_id = sites.node_id AND user_nodes.user_id = ?", user.ID)
	default:
		q = q.Joins("JOIN user_sites ON user_sites.site_id = sites.id AND user_sites.user_id = ?", user.ID)
	}

	if err := q.Find(&sites).Error; err != nil {
		return nil, err
	}
	if sites == nil {
		sites = []*models.Site{}
	}
	return sites, nil
}

// UserCanAccessSite reports whether the user's RBAC scope covers a site.
func (s *Store) UserCanAccessSite(ctx context.Context, user *models.User, siteID uint) (bool, error) {
	switch user.Role {
	case models.RoleSuperAdmin:
		return true, nil
	case models.RoleNodeAdmin:
		var count int64
		err := s.db.WithContext(ctx).
			Table("sites").
			Joins("JOIN user_nodes ON user_nodes.node_id = sites.node_id AND user_nodes.user_id = ?", user.ID).
			Where("sites.id = ?", siteID).
			Count(&count).Error
		return count > 0, err
	default:
		var count int64
		err := s.db.WithContext(ctx).
			Table("user_sites").
			Where("user_id = ? AND site_id = ?", user.ID, siteID).
			Count(&count).Error
		return count > 0, err
	}
}

func (s *Store) CreateSite(ctx context.Context, site *models.Site) error {
	if err := site.Validate(); err != nil {
		return err
	}
	return createWithUUID(s.db, ctx, site, site.UUID, func(m *models.Site, id string) { m.UUID = id }, models.ErrDuplicateSite)
}

// SyncDiscoveredSites upserts sites reported by a node's scanner, keyed
// by (node, path). Existing rows keep their quota, schedule and usage;
// only the discovery facts are refreshed. Returns the refreshed site
// list for the node.
func (s *Store) SyncDiscoveredSites(ctx context.Context, nodeID uint, discovered []*models.Site) ([]*models.Site, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range discovered {
			var existing models.Site
			err := tx.Where("node_id = ? AND path = ?", nodeID, d.Path).First(&existing).Error
			switch {
			case err == nil:
				updates := map[string]any{
					"name":            d.Name,
					"wp_config_path":  d.WPConfigPath,
					"wp_content_path": d.WPContentPath,
					"is_active":       true,
				}
				if err := tx.Model(&existing).Updates(updates).Error; err != nil {
					return err
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				d.NodeID = nodeID
				if err := createWithUUID(tx, ctx, d, d.UUID, func(m *models.Site, id string) { m.UUID = id }, models.ErrDuplicateSite); err != nil {
					return err
				}
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.ListSitesForNode(ctx, nodeID)
}

// SetSiteQuota updates a site's quota after checking the node remainder:
// the sum of site quotas on a node must not exceed the node quota.
func (s *Store) SetSiteQuota(ctx context.Context, siteID uint, quotaBytes int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var site models.Site
		if err := tx.Where("id = ?", siteID).First(&site).Error; err != nil {
			return convertNotFoundError(err, models.ErrSiteNotFound)
		}

		var node models.Node
		if err := s.lockForUpdate(tx).Where("id = ?", site.NodeID).First(&node).Error; err != nil {
			return convertNotFoundError(err, models.ErrNodeNotFound)
		}

		var otherQuotas int64
		if err := tx.Model(&models.Site{}).
			Where("node_id = ? AND id <> ?", site.NodeID, siteID).
			Select("COALESCE(SUM(storage_quota_bytes), 0)").
			Scan(&otherQuotas).Error; err != nil {
			return err
		}

		if node.StorageQuotaBytes > 0 && otherQuotas+quotaBytes > node.StorageQuotaBytes {
			return models.ErrQuotaOverCommits
		}

		return tx.Model(&site).Update("storage_quota_bytes", quotaBytes).Error
	})
}

// UpdateSiteSchedule replaces the schedule spec and derived next run.
func (s *Store) UpdateSiteSchedule(ctx context.Context, siteID uint, frequency models.BackupFrequency, timeOfDay, days string, retention int, nextRun *time.Time) error {
	if !frequency.IsValid() {
		return models.ErrInvalidFrequency
	}
	result := s.db.WithContext(ctx).
		Model(&models.Site{}).
		Where("id = ?", siteID).
		Updates(map[string]any{
			"schedule_frequency": frequency,
			"schedule_time":      timeOfDay,
			"schedule_days":      days,
			"retention_copies":   retention,
			"next_run_at":        nextRun,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSiteNotFound
	}
	return nil
}

// SetSiteNextRun stores the derived next_run_at for a site.
func (s *Store) SetSiteNextRun(ctx context.Context, siteID uint, nextRun *time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Site{}).
		Where("id = ?", siteID).
		Update("next_run_at", nextRun).Error
}

func (s *Store) DeleteSite(ctx context.Context, id uint) error {
	return deleteByField[models.Site](s.db, ctx, "id", id, models.ErrSiteNotFound)
}
