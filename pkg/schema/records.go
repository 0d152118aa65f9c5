package schema

import (
	"context"
	"fmt"
	"maps"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
	"github.com/kubeflow/schema-registry/pkg/validation"
)

// CreateRecordRequest describes a new metadata record. Values are keyed by
// field name.
type CreateRecordRequest struct {
	SchemaID string         `json:"schemaId"`
	Name     string         `json:"name"`
	Tag      string         `json:"tag,omitempty"`
	Values   map[string]any `json:"values"`
	Actor    string         `json:"actor,omitempty"`
}

// Record is a metadata record with its values keyed by field name.
type Record struct {
	store.MetadataRecord
	Values map[string]any `json:"values"`
}

// CreateRecord validates values against the schema's active fields and
// stores the record. It holds the schema lock so the write never
// interleaves with a value migration.
func (m *Manager) CreateRecord(ctx context.Context, req CreateRecordRequest) (*Record, error) {
	var rec *store.MetadataRecord
	err := m.locker.WithLock(ctx, req.SchemaID, func() error {
		return m.store.Transaction(ctx, func(tx *store.Store) error {
			schema, err := requireSchema(ctx, tx, req.SchemaID)
			if err != nil {
				return err
			}
			fields, err := tx.ListFields(ctx, schema.ID, false)
			if err != nil {
				return schemaerr.Wrap(err, "load fields")
			}
			check := m.engine.ValidateRecordValues(fields, schema.AllowAdditionalFields, req.Values, false)
			if !check.Report.Valid() {
				return reportError(check.Report)
			}
			rec = &store.MetadataRecord{
				SchemaID:    schema.ID,
				AssetTypeID: &schema.AssetTypeID,
				Name:        req.Name,
				Tag:         req.Tag,
				CreatedBy:   req.Actor,
			}
			if len(check.Extra) > 0 {
				rec.Extra = check.Extra
			}
			if err := tx.CreateRecord(ctx, rec); err != nil {
				return schemaerr.Wrap(err, "create record")
			}
			return putValues(ctx, tx, rec.ID, fields, check)
		})
	})
	if err != nil {
		return nil, schemaerr.Wrap(err, "create record")
	}
	m.catalog.InvalidateStatistics(req.SchemaID)
	return m.GetRecordValues(ctx, rec.ID)
}

func putValues(ctx context.Context, tx *store.Store, recordID string, fields []store.FieldRecord, check *validation.RecordCheck) error {
	for i := range fields {
		v, ok := check.Values[fields[i].ID]
		if !ok {
			continue
		}
		if fields[i].Constraints.Unique && v != nil {
			owner, err := tx.FindValueOwner(ctx, &fields[i], v, recordID)
			if err != nil {
				return schemaerr.Wrap(err, "check unique value")
			}
			if owner != "" {
				shown, _ := fieldtype.Format(fields[i].FieldType, v)
				return reportError(&validation.Report{Errors: []validation.Issue{{
					Field:     fields[i].FieldName,
					Message:   fmt.Sprintf("value %q duplicates record %s", shown, owner),
					RecordIDs: []string{owner},
					Severity:  validation.SeverityError,
				}}})
			}
		}
		if err := tx.PutValue(ctx, recordID, &fields[i], v); err != nil {
			return schemaerr.Wrap(err, "store value")
		}
	}
	return nil
}

// SetRecordValues updates the named values of a record. Fields not named
// keep their values; a nil value clears an optional field.
func (m *Manager) SetRecordValues(ctx context.Context, recordID string, values map[string]any) (*Record, error) {
	rec, err := m.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load record")
	}
	if rec == nil {
		return nil, schemaerr.NotFound("record %s not found", recordID)
	}
	err = m.locker.WithLock(ctx, rec.SchemaID, func() error {
		return m.store.Transaction(ctx, func(tx *store.Store) error {
			schema, err := requireSchema(ctx, tx, rec.SchemaID)
			if err != nil {
				return err
			}
			current, err := tx.GetRecord(ctx, recordID)
			if err != nil {
				return schemaerr.Wrap(err, "load record")
			}
			if current == nil {
				return schemaerr.NotFound("record %s not found", recordID)
			}
			fields, err := tx.ListFields(ctx, schema.ID, false)
			if err != nil {
				return schemaerr.Wrap(err, "load fields")
			}
			check := m.engine.ValidateRecordValues(fields, schema.AllowAdditionalFields, values, true)
			if !check.Report.Valid() {
				return reportError(check.Report)
			}
			if len(check.Extra) > 0 {
				extra := maps.Clone(current.Extra)
				if extra == nil {
					extra = map[string]any{}
				}
				maps.Copy(extra, check.Extra)
				current.Extra = extra
				if err := tx.UpdateRecordExtra(ctx, current); err != nil {
					return schemaerr.Wrap(err, "update record")
				}
			}
			return putValues(ctx, tx, current.ID, fields, check)
		})
	})
	if err != nil {
		return nil, schemaerr.Wrap(err, "update record")
	}
	return m.GetRecordValues(ctx, recordID)
}

// GetRecordValues returns a record with the values of its schema's active
// fields. Values kept from before a non-strict type change are returned in
// the type they were stored with.
func (m *Manager) GetRecordValues(ctx context.Context, recordID string) (*Record, error) {
	rec, err := m.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load record")
	}
	if rec == nil {
		return nil, schemaerr.NotFound("record %s not found", recordID)
	}
	fields, err := m.catalog.ListFields(ctx, rec.SchemaID, false)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load fields")
	}
	rows, err := m.store.ValuesForRecord(ctx, recordID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load values")
	}
	names := make(map[string]string, len(fields))
	for _, f := range fields {
		names[f.ID] = f.FieldName
	}
	out := &Record{MetadataRecord: *rec, Values: map[string]any{}}
	for i := range rows {
		name, ok := names[rows[i].FieldID]
		if !ok {
			continue
		}
		v, err := rows[i].Decode()
		if err != nil {
			return nil, schemaerr.Wrap(err, "decode value")
		}
		out.Values[name] = v
	}
	return out, nil
}

// DeleteRecord removes a record and its values.
func (m *Manager) DeleteRecord(ctx context.Context, recordID string) error {
	rec, err := m.store.GetRecord(ctx, recordID)
	if err != nil {
		return schemaerr.Wrap(err, "load record")
	}
	if rec == nil {
		return schemaerr.NotFound("record %s not found", recordID)
	}
	err = m.locker.WithLock(ctx, rec.SchemaID, func() error {
		return m.store.Transaction(ctx, func(tx *store.Store) error {
			return tx.DeleteRecord(ctx, recordID)
		})
	})
	if err != nil {
		return schemaerr.Wrap(err, "delete record")
	}
	m.catalog.InvalidateStatistics(rec.SchemaID)
	return nil
}
