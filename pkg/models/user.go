package models

import (
	"fmt"
	"net/mail"
	"time"
)

// UserRole represents the role of a user in the system.
type UserRole string

const (
	// RoleSuperAdmin may see and change everything.
	RoleSuperAdmin UserRole = "super_admin"
	// RoleNodeAdmin manages an assigned set of nodes and their sites.
	RoleNodeAdmin UserRole = "node_admin"
	// RoleSiteAdmin manages an assigned set of sites only.
	RoleSiteAdmin UserRole = "site_admin"
)

// IsValid checks if the role is a valid UserRole.
func (r UserRole) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleNodeAdmin, RoleSiteAdmin:
		return true
	}
	return false
}

// AtLeast reports whether the role grants at least the given role's scope.
// Ordering: super_admin > node_admin > site_admin.
func (r UserRole) AtLeast(min UserRole) bool {
	rank := map[UserRole]int{
		RoleSiteAdmin:  1,
		RoleNodeAdmin:  2,
		RoleSuperAdmin: 3,
	}
	return rank[r] >= rank[min]
}

// User is a control plane operator account.
//
// Visibility follows role: super admins see the whole fleet, node admins
// see their assigned nodes (and everything on them), site admins only
// their assigned sites. Assignments are the two many-to-many relations.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"uniqueIndex;not null;size:255" json:"email"`
	FullName     string     `gorm:"size:255" json:"full_name,omitempty"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         UserRole   `gorm:"not null;default:site_admin;size:50" json:"role"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	MFAEnabled   bool       `gorm:"default:false" json:"mfa_enabled"`
	MFASecret    string     `gorm:"size:512" json:"-"` // sealed, never serialized
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`

	Nodes []Node `gorm:"many2many:user_nodes;" json:"nodes,omitempty"`
	Sites []Site `gorm:"many2many:user_sites;" json:"sites,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// NodeIDs returns the ids of the user's assigned nodes.
// Requires the Nodes relation to be loaded.
func (u *User) NodeIDs() []uint {
	ids := make([]uint, len(u.Nodes))
	for i, n := range u.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// SiteIDs returns the ids of the user's assigned sites.
// Requires the Sites relation to be loaded.
func (u *User) SiteIDs() []uint {
	ids := make([]uint, len(u.Sites))
	for i, s := range u.Sites {
		ids[i] = s.ID
	}
	return ids
}

// Validate checks if the user has valid configuration.
func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("invalid email address: %w", err)
	}
	if !u.Role.IsValid() {
		return fmt.Errorf("invalid role: %s", u.Role)
	}
	return nil
}
