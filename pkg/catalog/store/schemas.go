package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrStaleVersion is returned by BumpVersion when the stored version no
// longer matches the caller's expectation.
var ErrStaleVersion = errors.New("schema version changed concurrently")

// CreateSchema inserts a schema row, assigning an ID when missing.
func (s *Store) CreateSchema(ctx context.Context, schema *SchemaRecord) error {
	if schema.ID == "" {
		schema.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(schema).Error; err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetSchema returns the schema with the given ID, or nil if absent.
func (s *Store) GetSchema(ctx context.Context, id string) (*SchemaRecord, error) {
	var schema SchemaRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&schema).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	return &schema, nil
}

// SchemaNameTaken reports whether assetTypeID already owns a schema named name.
func (s *Store) SchemaNameTaken(ctx context.Context, assetTypeID, name string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SchemaRecord{}).
		Where("asset_type_id = ? AND name = ?", assetTypeID, name).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check schema name: %w", err)
	}
	return count > 0, nil
}

// ListSchemas returns the schemas of an asset type ordered by name. An empty
// assetTypeID lists every schema.
func (s *Store) ListSchemas(ctx context.Context, assetTypeID string, activeOnly bool) ([]SchemaRecord, error) {
	q := s.db.WithContext(ctx).Model(&SchemaRecord{})
	if assetTypeID != "" {
		q = q.Where("asset_type_id = ?", assetTypeID)
	}
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []SchemaRecord
	if err := q.Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	return out, nil
}

// BumpVersion advances the schema version from expected to expected+1. It
// fails with ErrStaleVersion if the stored version is not expected.
func (s *Store) BumpVersion(ctx context.Context, id string, expected int) error {
	res := s.db.WithContext(ctx).Model(&SchemaRecord{}).
		Where("id = ? AND version = ?", id, expected).
		Update("version", expected+1)
	if res.Error != nil {
		return fmt.Errorf("failed to bump schema version: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

// SetAllowAdditionalFields updates the schema's open/closed record shape.
func (s *Store) SetAllowAdditionalFields(ctx context.Context, id string, allow bool) error {
	err := s.db.WithContext(ctx).Model(&SchemaRecord{}).
		Where("id = ?", id).Update("allow_additional_fields", allow).Error
	if err != nil {
		return fmt.Errorf("failed to update schema: %w", err)
	}
	return nil
}

// DeleteSchema removes a schema together with its fields, records, values,
// snapshots and change log.
func (s *Store) DeleteSchema(ctx context.Context, id string) error {
	db := s.db.WithContext(ctx)
	recordIDs := db.Model(&MetadataRecord{}).Select("id").Where("schema_id = ?", id)
	steps := []struct {
		what string
		run  func() error
	}{
		{"field values", func() error { return db.Where("record_id IN (?)", recordIDs).Delete(&FieldValueRecord{}).Error }},
		{"records", func() error { return db.Where("schema_id = ?", id).Delete(&MetadataRecord{}).Error }},
		{"fields", func() error { return db.Where("schema_id = ?", id).Delete(&FieldRecord{}).Error }},
		{"snapshots", func() error { return db.Where("schema_id = ?", id).Delete(&VersionSnapshotRecord{}).Error }},
		{"change log", func() error { return db.Where("schema_id = ?", id).Delete(&ChangeLogRecord{}).Error }},
		{"schema", func() error { return db.Where("id = ?", id).Delete(&SchemaRecord{}).Error }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("failed to delete schema %s: %w", step.what, err)
		}
	}
	return nil
}
