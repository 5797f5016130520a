package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ============================================================================
// Generic GORM Helpers
// ============================================================================
//
// These helpers reduce repetitive CRUD boilerplate across store
// implementation files. They are unexported and operate on the raw
// *gorm.DB so they compose inside transactions. Each helper handles the
// standard concerns: context propagation, preloading, not-found error
// conversion and unique constraint detection.

// getByField retrieves a single record of type T by matching field=value.
// It applies optional GORM Preload clauses and converts
// gorm.ErrRecordNotFound to the provided notFoundErr.
func getByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error, preloads ...string) (*T, error) {
	var result T
	q := db.WithContext(ctx)
	for _, p := range preloads {
		q = q.Preload(p)
	}
	if err := q.Where(field+" = ?", value).First(&result).Error; err != nil {
		return nil, convertNotFoundError(err, notFoundErr)
	}
	return &result, nil
}

// listAll retrieves all records of type T, applying optional Preloads.
// Returns an empty slice (not nil) on success with no records.
func listAll[T any](db *gorm.DB, ctx context.Context, preloads ...string) ([]*T, error) {
	var results []*T
	q := db.WithContext(ctx)
	for _, p := range preloads {
		q = q.Preload(p)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	if results == nil {
		results = []*T{}
	}
	return results, nil
}

// createWithUUID assigns a fresh opaque UUID to the entity if the setter
// reports it has none, then inserts it. Unique constraint violations are
// converted to dupErr.
func createWithUUID[T any](db *gorm.DB, ctx context.Context, entity *T, currentUUID string, setUUID func(*T, string), dupErr error) error {
	if currentUUID == "" {
		setUUID(entity, uuid.NewString())
	}
	if err := db.WithContext(ctx).Create(entity).Error; err != nil {
		if isUniqueConstraintError(err) {
			return dupErr
		}
		return err
	}
	return nil
}

// deleteByField deletes records of type T matching field=value.
// Returns notFoundErr if no rows were affected.
func deleteByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error) error {
	var zero T
	result := db.WithContext(ctx).Where(field+" = ?", value).Delete(&zero)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFoundErr
	}
	return nil
}

// lockForUpdate appends a row-level write lock clause on backends that
// support one. SQLite serializes writers at the database level, so the
// clause is only emitted for postgres.
func (s *Store) lockForUpdate(tx *gorm.DB) *gorm.DB {
	if s.config != nil && s.config.Type == DatabaseTypePostgres {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
