package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for backup and fleet operations. Keys follow
// OpenTelemetry semantic conventions where one exists; domain-specific
// keys use the "wpfleet." prefix.
const (
	AttrNodeID       = "wpfleet.node.id"
	AttrNodeHostname = "wpfleet.node.hostname"
	AttrSiteID       = "wpfleet.site.id"
	AttrSiteName     = "wpfleet.site.name"
	AttrBackupID     = "wpfleet.backup.id"
	AttrBackupType   = "wpfleet.backup.type"
	AttrBackupStatus = "wpfleet.backup.status"
	AttrArchiveSize  = "wpfleet.backup.size_bytes"
	AttrProviderID   = "wpfleet.provider.id"
	AttrProviderName = "wpfleet.provider.name"
	AttrObjectKey    = "wpfleet.object.key"
	AttrBucket       = "wpfleet.object.bucket"
	AttrDryRun       = "wpfleet.dry_run"
	AttrDeletedCount = "wpfleet.deleted_count"
)

// NodeID creates a node ID attribute.
func NodeID(id uint) attribute.KeyValue {
	return attribute.Int64(AttrNodeID, int64(id))
}

// NodeHostname creates a node hostname attribute.
func NodeHostname(hostname string) attribute.KeyValue {
	return attribute.String(AttrNodeHostname, hostname)
}

// SiteID creates a site ID attribute.
func SiteID(id uint) attribute.KeyValue {
	return attribute.Int64(AttrSiteID, int64(id))
}

// SiteName creates a site name attribute.
func SiteName(name string) attribute.KeyValue {
	return attribute.String(AttrSiteName, name)
}

// BackupID creates a backup ID attribute.
func BackupID(id uint) attribute.KeyValue {
	return attribute.Int64(AttrBackupID, int64(id))
}

// BackupType creates a backup type attribute (full, database, files).
func BackupType(t string) attribute.KeyValue {
	return attribute.String(AttrBackupType, t)
}

// BackupStatus creates a backup status attribute.
func BackupStatus(status string) attribute.KeyValue {
	return attribute.String(AttrBackupStatus, status)
}

// ArchiveSize creates an archive size attribute in bytes.
func ArchiveSize(bytes int64) attribute.KeyValue {
	return attribute.Int64(AttrArchiveSize, bytes)
}

// ProviderID creates a storage provider ID attribute.
func ProviderID(id uint) attribute.KeyValue {
	return attribute.Int64(AttrProviderID, int64(id))
}

// ProviderName creates a storage provider name attribute.
func ProviderName(name string) attribute.KeyValue {
	return attribute.String(AttrProviderName, name)
}

// ObjectKey creates an object key attribute.
func ObjectKey(key string) attribute.KeyValue {
	return attribute.String(AttrObjectKey, key)
}

// Bucket creates a bucket name attribute.
func Bucket(bucket string) attribute.KeyValue {
	return attribute.String(AttrBucket, bucket)
}

// DryRun creates a dry-run flag attribute.
func DryRun(dry bool) attribute.KeyValue {
	return attribute.Bool(AttrDryRun, dry)
}

// DeletedCount creates a deleted-count attribute.
func DeletedCount(n int) attribute.KeyValue {
	return attribute.Int(AttrDeletedCount, n)
}

// StartBackupSpan starts a span for a backup lifecycle operation
// (e.g. "backup.upload", "backup.verify").
func StartBackupSpan(ctx context.Context, operation string, backupID uint, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{BackupID(backupID)}, attrs...)
	return StartSpan(ctx, operation, trace.WithAttributes(all...))
}

// StartProviderSpan starts a span for an operation against one storage
// provider's bucket (e.g. "reconcile.provider", "retention.delete").
func StartProviderSpan(ctx context.Context, operation string, providerID uint, providerName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{ProviderID(providerID), ProviderName(providerName)}, attrs...)
	return StartSpan(ctx, operation, trace.WithAttributes(all...))
}
