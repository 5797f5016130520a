package models

import (
	"fmt"
	"time"
)

// ProviderType identifies the kind of storage backend.
type ProviderType string

const (
	// ProviderS3 is any S3-compatible object store.
	ProviderS3 ProviderType = "s3"
	// ProviderLocal is a filesystem path on the master host. Used for
	// lab setups; production fleets use S3-compatible stores.
	ProviderLocal ProviderType = "local"
)

// IsValid checks if the type is a known ProviderType.
func (t ProviderType) IsValid() bool {
	return t == ProviderS3 || t == ProviderLocal
}

// StorageProvider is a destination object store for backup archives.
//
// Access and secret keys are stored sealed (AES-GCM under the master
// process secret) and only ever decrypted into memory, either to answer a
// node's storage-config fetch or for the master's own reconciliation and
// retention passes.
type StorageProvider struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	UUID string `gorm:"uniqueIndex;not null;size:36" json:"uuid"`
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	Type     ProviderType `gorm:"not null;default:s3;size:20" json:"type"`
	Endpoint string       `gorm:"size:512" json:"endpoint,omitempty"`
	Region   string       `gorm:"size:64" json:"region,omitempty"`
	Bucket   string       `gorm:"size:255" json:"bucket"`
	// ForcePathStyle is required by most non-AWS S3 implementations.
	ForcePathStyle bool `gorm:"default:true" json:"force_path_style"`

	AccessKeySealed string `gorm:"size:1024" json:"-"`
	SecretKeySealed string `gorm:"size:1024" json:"-"`

	StorageLimitBytes int64 `gorm:"not null;default:0" json:"storage_limit_bytes"`
	StorageUsedBytes  int64 `gorm:"not null;default:0" json:"storage_used_bytes"`

	IsDefault bool      `gorm:"default:false;index" json:"is_default"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for StorageProvider.
func (StorageProvider) TableName() string {
	return "storage_providers"
}

// Validate checks if the provider has valid configuration.
func (p *StorageProvider) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !p.Type.IsValid() {
		return fmt.Errorf("invalid provider type: %s", p.Type)
	}
	if p.Type == ProviderS3 && p.Bucket == "" {
		return fmt.Errorf("bucket is required for s3 providers")
	}
	if p.StorageLimitBytes < 0 {
		return fmt.Errorf("storage limit must not be negative")
	}
	return nil
}
