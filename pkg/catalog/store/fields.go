package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateField inserts a field row, assigning an ID when missing.
func (s *Store) CreateField(ctx context.Context, f *FieldRecord) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.State == "" {
		f.State = FieldActive
	}
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("failed to create field: %w", err)
	}
	return nil
}

// SaveField writes every column of f.
func (s *Store) SaveField(ctx context.Context, f *FieldRecord) error {
	if err := s.db.WithContext(ctx).Save(f).Error; err != nil {
		return fmt.Errorf("failed to save field: %w", err)
	}
	return nil
}

// GetField returns the field with the given ID, or nil if absent.
func (s *Store) GetField(ctx context.Context, id string) (*FieldRecord, error) {
	var f FieldRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field: %w", err)
	}
	return &f, nil
}

// FindActiveField returns the active field named name in a schema, or nil.
func (s *Store) FindActiveField(ctx context.Context, schemaID, name string) (*FieldRecord, error) {
	var f FieldRecord
	err := s.db.WithContext(ctx).
		Where("schema_id = ? AND field_name = ? AND state = ?", schemaID, name, FieldActive).
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find field: %w", err)
	}
	return &f, nil
}

// ListFields returns a schema's fields ordered by position. Soft-deleted
// fields are included only when includeDeleted is set.
func (s *Store) ListFields(ctx context.Context, schemaID string, includeDeleted bool) ([]FieldRecord, error) {
	q := s.db.WithContext(ctx).Where("schema_id = ?", schemaID)
	if !includeDeleted {
		q = q.Where("state = ?", FieldActive)
	}
	var out []FieldRecord
	if err := q.Order("order_index ASC, created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	return out, nil
}

// NextOrderIndex returns the position after the last field of a schema.
func (s *Store) NextOrderIndex(ctx context.Context, schemaID string) (int, error) {
	var maxIdx sql.NullInt64
	err := s.db.WithContext(ctx).Model(&FieldRecord{}).
		Where("schema_id = ?", schemaID).
		Select("MAX(order_index)").Row().Scan(&maxIdx)
	if err != nil {
		return 0, fmt.Errorf("failed to read field order: %w", err)
	}
	if !maxIdx.Valid {
		return 0, nil
	}
	return int(maxIdx.Int64) + 1, nil
}

// SoftDeleteField marks a field removed, keeping its values.
func (s *Store) SoftDeleteField(ctx context.Context, f *FieldRecord, at time.Time) error {
	f.State = FieldSoftDeleted
	f.RemovedAt = &at
	return s.SaveField(ctx, f)
}

// RestoreField brings a soft-deleted field back to active.
func (s *Store) RestoreField(ctx context.Context, f *FieldRecord) error {
	f.State = FieldActive
	f.RemovedAt = nil
	return s.SaveField(ctx, f)
}

// PurgeField permanently deletes a field and all of its values. It returns
// the number of values removed.
func (s *Store) PurgeField(ctx context.Context, fieldID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("field_id = ?", fieldID).Delete(&FieldValueRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete field values: %w", res.Error)
	}
	if err := s.db.WithContext(ctx).Where("id = ?", fieldID).Delete(&FieldRecord{}).Error; err != nil {
		return 0, fmt.Errorf("failed to delete field: %w", err)
	}
	return res.RowsAffected, nil
}

// ListExpiredFields returns soft-deleted fields removed before cutoff.
func (s *Store) ListExpiredFields(ctx context.Context, cutoff time.Time) ([]FieldRecord, error) {
	var out []FieldRecord
	err := s.db.WithContext(ctx).
		Where("state = ? AND removed_at < ?", FieldSoftDeleted, cutoff).
		Order("schema_id ASC, removed_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired fields: %w", err)
	}
	return out, nil
}
