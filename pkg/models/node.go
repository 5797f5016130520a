package models

import (
	"fmt"
	"time"
)

// NodeStatus represents the lifecycle state of a managed node.
type NodeStatus string

const (
	// NodePending means the node has requested to join and awaits approval.
	NodePending NodeStatus = "pending"
	// NodeActive means the node is approved and may authenticate.
	NodeActive NodeStatus = "active"
	// NodeBlocked means the node is administratively barred from the API.
	NodeBlocked NodeStatus = "blocked"
	// NodeInactive means the node has not been seen for an extended period.
	NodeInactive NodeStatus = "inactive"
)

// IsValid checks if the status is a known NodeStatus.
func (s NodeStatus) IsValid() bool {
	switch s {
	case NodePending, NodeActive, NodeBlocked, NodeInactive:
		return true
	}
	return false
}

// Node is a managed server running the backup agent.
//
// The integer ID is the surrogate key used throughout the REST API; the
// UUID is the opaque identifier used in object-store keys so bucket
// layouts cannot be enumerated from hostnames.
type Node struct {
	ID       uint       `gorm:"primaryKey" json:"id"`
	UUID     string     `gorm:"uniqueIndex;not null;size:36" json:"uuid"`
	Hostname string     `gorm:"not null;size:255" json:"hostname"`
	Address  string     `gorm:"size:255" json:"address,omitempty"`
	Status   NodeStatus `gorm:"not null;default:pending;size:20;index" json:"status"`

	// RegistrationCode is the public enrollment handle. It stays
	// resolvable after the key is claimed; KeyRetrievedAt records the
	// claim.
	RegistrationCode *string `gorm:"uniqueIndex;size:8" json:"-"`

	// APIKeyHash holds "salt$hex(sha256(salt||key))"; the plaintext key is
	// released exactly once through the status-by-code endpoint.
	APIKeyHash     string     `gorm:"size:255" json:"-"`
	KeyRetrievedAt *time.Time `json:"-"`

	StorageQuotaBytes int64 `gorm:"not null;default:0" json:"storage_quota_bytes"`
	StorageUsedBytes  int64 `gorm:"not null;default:0" json:"storage_used_bytes"`

	// MaxRetentionCopies, when set, clamps every site's retention_copies.
	MaxRetentionCopies   *int `json:"max_retention_copies,omitempty"`
	MaxConcurrentBackups int  `gorm:"default:2" json:"max_concurrent_backups"`

	AgentVersion string     `gorm:"size:50" json:"agent_version,omitempty"`
	DiskTotal    int64      `json:"disk_total,omitempty"`
	DiskFree     int64      `json:"disk_free,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`

	Sites []Site `gorm:"foreignKey:NodeID" json:"sites,omitempty"`
}

// TableName returns the table name for Node.
func (Node) TableName() string {
	return "nodes"
}

// CanAuthenticate reports whether the node may use its API key.
func (n *Node) CanAuthenticate() bool {
	return n.Status == NodeActive && n.APIKeyHash != ""
}

// QuotaRemaining returns the unreserved quota headroom in bytes.
func (n *Node) QuotaRemaining() int64 {
	r := n.StorageQuotaBytes - n.StorageUsedBytes
	if r < 0 {
		return 0
	}
	return r
}

// Validate checks if the node has valid configuration.
func (n *Node) Validate() error {
	if n.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", n.Status)
	}
	if n.StorageQuotaBytes < 0 {
		return fmt.Errorf("storage quota must not be negative")
	}
	return nil
}
