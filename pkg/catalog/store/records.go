package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateRecord inserts a metadata record, assigning an ID when missing.
func (s *Store) CreateRecord(ctx context.Context, r *MetadataRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// GetRecord returns the record with the given ID, or nil if absent.
func (s *Store) GetRecord(ctx context.Context, id string) (*MetadataRecord, error) {
	var r MetadataRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &r, nil
}

// UpdateRecordExtra replaces the additional (schema-less) values of a record.
func (s *Store) UpdateRecordExtra(ctx context.Context, r *MetadataRecord) error {
	err := s.db.WithContext(ctx).Model(r).Select("extra", "updated_at").Updates(r).Error
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

// ListRecords returns up to limit records of a schema, oldest first. A
// non-positive limit returns every record.
func (s *Store) ListRecords(ctx context.Context, schemaID string, limit int) ([]MetadataRecord, error) {
	q := s.db.WithContext(ctx).Where("schema_id = ?", schemaID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []MetadataRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return out, nil
}

// CountRecords returns the number of records attached to a schema.
func (s *Store) CountRecords(ctx context.Context, schemaID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&MetadataRecord{}).Where("schema_id = ?", schemaID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// RecordIDs returns the IDs of every record attached to a schema.
func (s *Store) RecordIDs(ctx context.Context, schemaID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&MetadataRecord{}).
		Where("schema_id = ?", schemaID).Order("id ASC").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list record ids: %w", err)
	}
	return ids, nil
}

// DeleteRecord removes a record and its values.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("record_id = ?", id).Delete(&FieldValueRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete record values: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&MetadataRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}
