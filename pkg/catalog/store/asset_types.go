package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateAssetType inserts an asset type, assigning an ID when missing.
func (s *Store) CreateAssetType(ctx context.Context, at *AssetTypeRecord) error {
	if at.ID == "" {
		at.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(at).Error; err != nil {
		return fmt.Errorf("failed to create asset type: %w", err)
	}
	return nil
}

// GetAssetType returns the asset type with the given ID, or nil if absent.
func (s *Store) GetAssetType(ctx context.Context, id string) (*AssetTypeRecord, error) {
	var at AssetTypeRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&at).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset type: %w", err)
	}
	return &at, nil
}

// ListAssetTypes returns all asset types ordered by name.
func (s *Store) ListAssetTypes(ctx context.Context) ([]AssetTypeRecord, error) {
	var out []AssetTypeRecord
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list asset types: %w", err)
	}
	return out, nil
}

// DeleteAssetType removes an asset type and every schema it owns.
func (s *Store) DeleteAssetType(ctx context.Context, id string) error {
	var schemaIDs []string
	if err := s.db.WithContext(ctx).Model(&SchemaRecord{}).
		Where("asset_type_id = ?", id).Pluck("id", &schemaIDs).Error; err != nil {
		return fmt.Errorf("failed to list owned schemas: %w", err)
	}
	for _, sid := range schemaIDs {
		if err := s.DeleteSchema(ctx, sid); err != nil {
			return err
		}
	}
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&AssetTypeRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete asset type: %w", err)
	}
	return nil
}
