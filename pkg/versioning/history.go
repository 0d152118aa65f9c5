package versioning

import (
	"context"
	"errors"

	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
)

// Change describes one structural mutation for the version history.
type Change struct {
	Type        store.ChangeType
	Description string
	Details     map[string]any
	Actor       string
}

// RecordInitial snapshots a newly created schema at its current version and
// logs change. It must run inside the transaction that created the schema.
func RecordInitial(ctx context.Context, tx *store.Store, schemaID string, change Change) (*store.VersionSnapshotRecord, error) {
	schema, err := tx.GetSchema(ctx, schemaID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load schema")
	}
	if schema == nil {
		return nil, schemaerr.NotFound("schema %s not found", schemaID)
	}
	return record(ctx, tx, schema, change)
}

// RecordChange advances a schema from version expected to expected+1,
// snapshots the resulting layout and logs change, all through tx. A
// concurrent bump surfaces as a conflict.
func RecordChange(ctx context.Context, tx *store.Store, schemaID string, expected int, change Change) (*store.VersionSnapshotRecord, error) {
	if err := tx.BumpVersion(ctx, schemaID, expected); err != nil {
		if errors.Is(err, store.ErrStaleVersion) {
			return nil, schemaerr.Conflict("schema %s is no longer at version %d", schemaID, expected)
		}
		return nil, schemaerr.Wrap(err, "bump schema version")
	}
	return RecordInitial(ctx, tx, schemaID, change)
}

func record(ctx context.Context, tx *store.Store, schema *store.SchemaRecord, change Change) (*store.VersionSnapshotRecord, error) {
	fields, err := tx.ListFields(ctx, schema.ID, true)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load fields")
	}
	layout := store.LayoutOf(schema, fields)

	snap := &store.VersionSnapshotRecord{
		SchemaID:      schema.ID,
		VersionNumber: schema.Version,
		FieldLayout:   layout,
		ChangeSummary: change.Description,
		CreatedBy:     change.Actor,
	}
	if err := tx.CreateSnapshot(ctx, snap); err != nil {
		if store.IsDuplicate(err) {
			return nil, schemaerr.Conflict("schema %s already has a snapshot for version %d", schema.ID, schema.Version)
		}
		return nil, schemaerr.Wrap(err, "create snapshot")
	}
	entry := &store.ChangeLogRecord{
		SchemaID:       schema.ID,
		Version:        schema.Version,
		ChangeType:     change.Type,
		Description:    change.Description,
		Details:        change.Details,
		SchemaSnapshot: layout,
		ChangedBy:      change.Actor,
	}
	if err := tx.AppendChange(ctx, entry); err != nil {
		return nil, schemaerr.Wrap(err, "append change log")
	}
	return snap, nil
}
