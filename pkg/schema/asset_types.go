package schema

import (
	"context"
	"strings"

	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
)

// CreateAssetType registers a new asset type. Names are unique.
func (m *Manager) CreateAssetType(ctx context.Context, name, description string) (*store.AssetTypeRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, schemaerr.Validation("asset type name is required", nil)
	}
	at := &store.AssetTypeRecord{Name: name, Description: description}
	if err := m.store.CreateAssetType(ctx, at); err != nil {
		if store.IsDuplicate(err) {
			return nil, schemaerr.Conflict("asset type %q already exists", name)
		}
		return nil, schemaerr.Storage(err, "create asset type")
	}
	m.logger.Info("asset type created", "assetTypeID", at.ID, "name", name)
	return at, nil
}

// GetAssetType returns an asset type by ID.
func (m *Manager) GetAssetType(ctx context.Context, id string) (*store.AssetTypeRecord, error) {
	at, err := m.catalog.GetAssetType(ctx, id)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load asset type")
	}
	if at == nil {
		return nil, schemaerr.NotFound("asset type %s not found", id)
	}
	return at, nil
}

func (m *Manager) ListAssetTypes(ctx context.Context) ([]store.AssetTypeRecord, error) {
	out, err := m.store.ListAssetTypes(ctx)
	if err != nil {
		return nil, schemaerr.Wrap(err, "list asset types")
	}
	return out, nil
}

// DeleteAssetType removes an asset type together with its schemas, their
// fields, versions, history and records. Every owned schema's lock is held
// for the duration.
func (m *Manager) DeleteAssetType(ctx context.Context, id string) error {
	if _, err := m.GetAssetType(ctx, id); err != nil {
		return err
	}
	owned, err := m.store.ListSchemas(ctx, id, false)
	if err != nil {
		return schemaerr.Wrap(err, "list schemas")
	}
	keys := make([]string, len(owned))
	for i := range owned {
		keys[i] = owned[i].ID
	}
	err = m.locker.WithLocks(ctx, keys, func() error {
		return m.store.Transaction(ctx, func(tx *store.Store) error {
			return tx.DeleteAssetType(ctx, id)
		})
	})
	if err != nil {
		return schemaerr.Wrap(err, "delete asset type")
	}
	for _, s := range owned {
		m.catalog.InvalidateSchema(s.ID)
	}
	m.catalog.InvalidateAssetType(id)
	m.logger.Info("asset type deleted", "assetTypeID", id, "schemas", len(owned))
	return nil
}
