package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/wpfleet/wpfleet/pkg/models"
)

// ============================================
// STORAGE PROVIDER OPERATIONS
// ============================================

func (s *Store) GetProvider(ctx context.Context, id uint) (*models.StorageProvider, error) {
	return getByField[models.StorageProvider](s.db, ctx, "id", id, models.ErrProviderNotFound)
}

func (s *Store) GetProviderByName(ctx context.Context, name string) (*models.StorageProvider, error) {
	return getByField[models.StorageProvider](s.db, ctx, "name", name, models.ErrProviderNotFound)
}

func (s *Store) ListProviders(ctx context.Context) ([]*models.StorageProvider, error) {
	return listAll[models.StorageProvider](s.db, ctx)
}

// ListActiveProviders returns providers eligible for uploads and
// reconciliation.
func (s *Store) ListActiveProviders(ctx context.Context) ([]*models.StorageProvider, error) {
	var providers []*models.StorageProvider
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&providers).Error; err != nil {
		return nil, err
	}
	if providers == nil {
		providers = []*models.StorageProvider{}
	}
	return providers, nil
}

// GetDefaultProvider returns the provider marked is_default.
func (s *Store) GetDefaultProvider(ctx context.Context) (*models.StorageProvider, error) {
	var p models.StorageProvider
	err := s.db.WithContext(ctx).
		Where("is_default = ? AND is_active = ?", true, true).
		First(&p).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrNoDefaultProvider)
	}
	return &p, nil
}

// CreateProvider inserts a provider. When the new provider is flagged
// default, any previous default is cleared in the same transaction so at
// most one default ever exists.
func (s *Store) CreateProvider(ctx context.Context, provider *models.StorageProvider) error {
	if err := provider.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if provider.IsDefault {
			if err := tx.Model(&models.StorageProvider{}).
				Where("is_default = ?", true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return createWithUUID(tx, ctx, provider, provider.UUID, func(p *models.StorageProvider, id string) { p.UUID = id }, models.ErrDuplicateProvider)
	})
}

// SetDefaultProvider moves the default flag to the given provider.
func (s *Store) SetDefaultProvider(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.StorageProvider
		if err := tx.Where("id = ?", id).First(&p).Error; err != nil {
			return convertNotFoundError(err, models.ErrProviderNotFound)
		}
		if err := tx.Model(&models.StorageProvider{}).
			Where("is_default = ? AND id <> ?", true, id).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&p).Update("is_default", true).Error
	})
}

// UpdateProviderSealedKeys replaces the sealed credential pair, used for
// credential rotation and lazy re-sealing after master key rotation.
func (s *Store) UpdateProviderSealedKeys(ctx context.Context, id uint, accessSealed, secretSealed string) error {
	result := s.db.WithContext(ctx).
		Model(&models.StorageProvider{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_key_sealed": accessSealed,
			"secret_key_sealed": secretSealed,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrProviderNotFound
	}
	return nil
}

// SetProviderUsage overwrites a provider's used-bytes counter. Used by
// the reconciler when recomputing from store totals.
func (s *Store) SetProviderUsage(ctx context.Context, id uint, usedBytes int64) error {
	if usedBytes < 0 {
		usedBytes = 0
	}
	result := s.db.WithContext(ctx).
		Model(&models.StorageProvider{}).
		Where("id = ?", id).
		Update("storage_used_bytes", usedBytes)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrProviderNotFound
	}
	return nil
}
