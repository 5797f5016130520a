// Package quota enforces the two-level storage budget: each site's
// quota is bounded by its node's, and backups are admitted only when
// the projected size fits both.
//
// Admission is advisory. The projection can be wrong (a site can grow
// between check and upload), so the post-flight accounting in the store
// remains the source of truth and sets quota_exceeded_at when actual
// usage lands over budget.
package quota

import (
	"context"
	"errors"

	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// DefaultEstimateBytes is assumed for a site with no prior successful
// backup and no caller-supplied estimate.
const DefaultEstimateBytes = 1 << 30 // 1 GiB

// Bound identifies which budget a rejected admission ran into.
type Bound string

const (
	BoundNone Bound = ""
	BoundSite Bound = "site"
	BoundNode Bound = "node"
)

// Verdict is the result of a pre-flight admission check.
type Verdict struct {
	Allowed bool `json:"allowed"`

	// EstimateBytes is the projected size of the new backup.
	EstimateBytes int64 `json:"estimate_bytes"`

	// ProjectedSiteBytes and ProjectedNodeBytes are usage after the
	// projected backup lands.
	ProjectedSiteBytes int64 `json:"projected_site_bytes"`
	ProjectedNodeBytes int64 `json:"projected_node_bytes"`

	SiteQuotaBytes int64 `json:"site_quota_bytes"`
	NodeQuotaBytes int64 `json:"node_quota_bytes"`

	// ExceededBound names the first violated budget, site before node.
	ExceededBound Bound `json:"exceeded_bound,omitempty"`
}

// Service answers admission checks against the store.
type Service struct {
	store *store.Store
}

// NewService creates a quota service.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Estimate projects the size of the site's next backup: the size of its
// most recent successful backup, else the caller's hint, else the
// package default.
func (s *Service) Estimate(ctx context.Context, siteID uint, hint int64) (int64, error) {
	last, err := s.store.LastSuccessfulBackup(ctx, siteID)
	switch {
	case err == nil && last.SizeBytes > 0:
		return last.SizeBytes, nil
	case err != nil && !errors.Is(err, models.ErrBackupNotFound):
		return 0, err
	}
	if hint > 0 {
		return hint, nil
	}
	return DefaultEstimateBytes, nil
}

// Admit runs the pre-flight check for a new backup on the site. A zero
// quota means unlimited at that level.
func (s *Service) Admit(ctx context.Context, siteID uint, hint int64) (*Verdict, error) {
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	node, err := s.store.GetNode(ctx, site.NodeID)
	if err != nil {
		return nil, err
	}

	estimate, err := s.Estimate(ctx, siteID, hint)
	if err != nil {
		return nil, err
	}

	v := &Verdict{
		Allowed:            true,
		EstimateBytes:      estimate,
		ProjectedSiteBytes: site.StorageUsedBytes + estimate,
		ProjectedNodeBytes: node.StorageUsedBytes + estimate,
		SiteQuotaBytes:     site.StorageQuotaBytes,
		NodeQuotaBytes:     node.StorageQuotaBytes,
	}

	if site.StorageQuotaBytes > 0 && v.ProjectedSiteBytes > site.StorageQuotaBytes {
		v.Allowed = false
		v.ExceededBound = BoundSite
		return v, nil
	}
	if node.StorageQuotaBytes > 0 && v.ProjectedNodeBytes > node.StorageQuotaBytes {
		v.Allowed = false
		v.ExceededBound = BoundNode
		return v, nil
	}
	return v, nil
}
