package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wpfleet/wpfleet/internal/enroll"
	"github.com/wpfleet/wpfleet/pkg/models"
)

// ============================================
// NODE OPERATIONS
// ============================================

func (s *Store) GetNode(ctx context.Context, id uint) (*models.Node, error) {
	return getByField[models.Node](s.db, ctx, "id", id, models.ErrNodeNotFound, "Sites")
}

func (s *Store) GetNodeByUUID(ctx context.Context, uuid string) (*models.Node, error) {
	return getByField[models.Node](s.db, ctx, "uuid", uuid, models.ErrNodeNotFound, "Sites")
}

func (s *Store) ListNodes(ctx context.Context) ([]*models.Node, error) {
	return listAll[models.Node](s.db, ctx, "Sites")
}

// ListNodesForUser lists nodes visible to the given user: everything for
// super admins, the assigned set for node admins, nothing for site
// admins (they see sites, not nodes).
func (s *Store) ListNodesForUser(ctx context.Context, user *models.User) ([]*models.Node, error) {
	switch user.Role {
	case models.RoleSuperAdmin:
		return s.ListNodes(ctx)
	case models.RoleNodeAdmin:
		var nodes []*models.Node
		err := s.db.WithContext(ctx).
			Preload("Sites").
			Joins("JOIN user_nodes ON user_nodes.node_id = nodes.id AND user_nodes.user_id = ?", user.ID).
			Find(&nodes).Error
		if err != nil {
			return nil, err
		}
		if nodes == nil {
			nodes = []*models.Node{}
		}
		return nodes, nil
	default:
		return []*models.Node{}, nil
	}
}

// CreateJoinRequest records a pending node with a fresh registration
// code. The code is regenerated on the (rare) collision with another
// pending node.
func (s *Store) CreateJoinRequest(ctx context.Context, hostname, address string) (*models.Node, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := enroll.NewRegistrationCode()
		if err != nil {
			return nil, err
		}

		node := &models.Node{
			Hostname:         hostname,
			Address:          address,
			Status:           models.NodePending,
			RegistrationCode: &code,
		}
		err = createWithUUID(s.db, ctx, node, node.UUID, func(n *models.Node, id string) { n.UUID = id }, models.ErrDuplicateNode)
		if err == nil {
			return node, nil
		}
		if !errors.Is(err, models.ErrDuplicateNode) {
			return nil, err
		}
	}
	return nil, models.ErrDuplicateNode
}

// ApproveNode flips a pending node to active and returns the plaintext
// API key exactly once, to be relayed through the status-by-code
// endpoint. The salted hash is stored; the code survives until the key
// is claimed so the node's poll can still find its row.
func (s *Store) ApproveNode(ctx context.Context, id uint, sourceIP string) (node *models.Node, plaintextKey string, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n models.Node
		if err := tx.Where("id = ?", id).First(&n).Error; err != nil {
			return convertNotFoundError(err, models.ErrNodeNotFound)
		}
		if n.Status != models.NodePending {
			return models.ErrNodeNotPending
		}

		key, err := enroll.NewAPIKey()
		if err != nil {
			return err
		}
		hash, err := enroll.HashAPIKey(key)
		if err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]any{
			"status":       models.NodeActive,
			"api_key_hash": hash,
			"approved_at":  now,
		}
		if sourceIP != "" {
			updates["address"] = sourceIP
		}
		if err := tx.Model(&n).Updates(updates).Error; err != nil {
			return err
		}

		n.Status = models.NodeActive
		n.APIKeyHash = hash
		n.ApprovedAt = &now
		node = &n
		plaintextKey = key
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return node, plaintextKey, nil
}

// GetNodeByCode finds the node owning a registration code. Codes stay
// resolvable after the key is claimed so an agent's later polls still
// see the node's status.
func (s *Store) GetNodeByCode(ctx context.Context, code string) (*models.Node, error) {
	code = enroll.NormalizeCode(code)
	return getByField[models.Node](s.db, ctx, "registration_code", code, models.ErrCodeNotFound)
}

// ClaimNodeKey marks the API key as retrieved. The compare-and-set on
// key_retrieved_at guarantees exactly-once: the first caller wins,
// every later call gets ErrKeyAlreadyClaimed.
func (s *Store) ClaimNodeKey(ctx context.Context, nodeID uint) error {
	result := s.db.WithContext(ctx).
		Model(&models.Node{}).
		Where("id = ? AND key_retrieved_at IS NULL", nodeID).
		Update("key_retrieved_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrKeyAlreadyClaimed
	}
	return nil
}

// AuthenticateNode resolves a plaintext API key to its active node.
//
// The key carries no identifier, so the salted hashes are scanned; the
// fleet sizes this system targets keep the active-node count small. The
// comparison itself is constant time per candidate.
func (s *Store) AuthenticateNode(ctx context.Context, apiKey string) (*models.Node, error) {
	if apiKey == "" {
		return nil, models.ErrInvalidAPIKey
	}

	var nodes []*models.Node
	if err := s.db.WithContext(ctx).
		Where("api_key_hash <> ''").
		Find(&nodes).Error; err != nil {
		return nil, err
	}

	for _, n := range nodes {
		if enroll.VerifyAPIKey(n.APIKeyHash, apiKey) {
			if n.Status == models.NodeBlocked {
				return nil, models.ErrNodeBlocked
			}
			if n.Status != models.NodeActive {
				return nil, models.ErrInvalidAPIKey
			}
			return n, nil
		}
	}
	return nil, models.ErrInvalidAPIKey
}

// SetNodeStatus transitions a node between active and blocked.
func (s *Store) SetNodeStatus(ctx context.Context, id uint, status models.NodeStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.Node{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrNodeNotFound
	}
	return nil
}

// SetNodeQuota updates the node-level storage quota.
func (s *Store) SetNodeQuota(ctx context.Context, id uint, quotaBytes int64) error {
	result := s.db.WithContext(ctx).
		Model(&models.Node{}).
		Where("id = ?", id).
		Update("storage_quota_bytes", quotaBytes)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrNodeNotFound
	}
	return nil
}

// Heartbeat records a node stats beacon: address, disk figures, agent
// version and the last-seen stamp.
func (s *Store) Heartbeat(ctx context.Context, nodeID uint, address, agentVersion string, diskTotal, diskFree int64) error {
	now := time.Now()
	updates := map[string]any{
		"last_seen_at": now,
	}
	if address != "" {
		updates["address"] = address
	}
	if agentVersion != "" {
		updates["agent_version"] = agentVersion
	}
	if diskTotal > 0 {
		updates["disk_total"] = diskTotal
		updates["disk_free"] = diskFree
	}

	result := s.db.WithContext(ctx).
		Model(&models.Node{}).
		Where("id = ?", nodeID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrNodeNotFound
	}
	return nil
}
