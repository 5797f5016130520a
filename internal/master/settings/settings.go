// Package settings exposes typed accessors over the tiered key-value
// store. Resolution is most-specific-wins: site, then node, then global,
// then the compiled-in default.
package settings

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/wpfleet/wpfleet/internal/bytesize"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// Compiled-in defaults, used when a key is unset at every tier.
const (
	DefaultRetentionGraceDays = 7
	DefaultDriftThreshold     = 0.01
	DefaultTimezone           = "Africa/Harare"
)

// Service resolves settings for a site or node context.
type Service struct {
	store *store.Store
}

// NewService creates a settings service.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// RetentionGrace returns how long an excess backup stays restorable
// before the deletion worker may remove it.
func (s *Service) RetentionGrace(ctx context.Context, nodeID, siteID *uint) (time.Duration, error) {
	days, err := s.intSetting(ctx, models.SettingRetentionGraceDays, nodeID, siteID, DefaultRetentionGraceDays)
	if err != nil {
		return 0, err
	}
	if days < 0 {
		days = 0
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// DriftThreshold returns the relative usage-drift fraction above which
// the reconciler recomputes a site's accounting.
func (s *Service) DriftThreshold(ctx context.Context) (float64, error) {
	raw, err := s.store.ResolveSetting(ctx, models.SettingDriftThreshold, nil, nil)
	if errors.Is(err, models.ErrSettingNotFound) {
		return DefaultDriftThreshold, nil
	}
	if err != nil {
		return 0, err
	}
	v, parseErr := strconv.ParseFloat(raw, 64)
	if parseErr != nil || v <= 0 {
		return DefaultDriftThreshold, nil
	}
	return v, nil
}

// Timezone returns the schedule timezone for a site, falling back to
// the fleet default.
func (s *Service) Timezone(ctx context.Context, nodeID, siteID *uint) (*time.Location, error) {
	raw, err := s.store.ResolveSetting(ctx, models.SettingDefaultTimezone, nodeID, siteID)
	if errors.Is(err, models.ErrSettingNotFound) {
		raw = DefaultTimezone
	} else if err != nil {
		return nil, err
	}
	loc, locErr := time.LoadLocation(raw)
	if locErr != nil {
		return time.LoadLocation(DefaultTimezone)
	}
	return loc, nil
}

// BandwidthLimit returns the upload bandwidth cap in bytes per second
// for a node, or 0 for unlimited. Accepts human-readable sizes ("10MB").
func (s *Service) BandwidthLimit(ctx context.Context, nodeID *uint) (int64, error) {
	raw, err := s.store.ResolveSetting(ctx, models.SettingBandwidthLimit, nodeID, nil)
	if errors.Is(err, models.ErrSettingNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	size, parseErr := bytesize.ParseByteSize(raw)
	if parseErr != nil {
		return 0, nil
	}
	return size.Int64(), nil
}

func (s *Service) intSetting(ctx context.Context, key string, nodeID, siteID *uint, fallback int) (int, error) {
	raw, err := s.store.ResolveSetting(ctx, key, nodeID, siteID)
	if errors.Is(err, models.ErrSettingNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}
	v, parseErr := strconv.Atoi(raw)
	if parseErr != nil {
		return fallback, nil
	}
	return v, nil
}
