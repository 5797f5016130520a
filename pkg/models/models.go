// Package models defines the persistent entities of the fleet backup
// control plane: nodes, sites, backups, storage providers, users, the
// per-site progress row, settings and the activity log.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&User{},
		&Node{},
		&Site{},
		&Backup{},
		&StorageProvider{},
		&BackupProgress{},
		&ActivityLog{},
		&Setting{},
	}
}
