package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
	"github.com/kubeflow/schema-registry/pkg/validation"
	"github.com/kubeflow/schema-registry/pkg/versioning"
)

// AddField adds a field to a live schema. A required field on a schema
// with records needs a default, which is back-filled into every record.
func (m *Manager) AddField(ctx context.Context, schemaID string, def fieldtype.Definition, actor string) (*store.FieldRecord, error) {
	var field *store.FieldRecord
	_, err := m.mutate(ctx, "add_field", schemaID, func(ctx context.Context, tx *store.Store, schema *store.SchemaRecord) (*versioning.Change, error) {
		f, change, err := m.addField(ctx, tx, schema, def, actor)
		field = f
		return change, err
	})
	if err != nil {
		return nil, err
	}
	return field, nil
}

func (m *Manager) addField(ctx context.Context, tx *store.Store, schema *store.SchemaRecord, def fieldtype.Definition, actor string) (*store.FieldRecord, *versioning.Change, error) {
	existing, err := tx.FindActiveField(ctx, schema.ID, def.Name)
	if err != nil {
		return nil, nil, schemaerr.Wrap(err, "check field name")
	}
	if existing != nil {
		return nil, nil, schemaerr.Conflict("field %s already exists in schema %s", def.Name, schema.Name)
	}
	records, err := tx.CountRecords(ctx, schema.ID)
	if err != nil {
		return nil, nil, schemaerr.Wrap(err, "count records")
	}
	report := m.engine.ValidateAddField(def, records)
	if !report.Valid() {
		return nil, nil, reportError(report)
	}
	for _, w := range report.Warnings {
		m.logger.Warn("add field warning", "schemaID", schema.ID, "field", w.Field, "message", w.Message)
	}

	order, err := tx.NextOrderIndex(ctx, schema.ID)
	if err != nil {
		return nil, nil, schemaerr.Wrap(err, "next field order")
	}
	field := fieldFromDefinition(schema.ID, def, order)
	if err := tx.CreateField(ctx, field); err != nil {
		return nil, nil, schemaerr.Wrap(err, "create field")
	}

	var backfilled int64
	if def.Required && records > 0 {
		val, err := def.DefaultValue()
		if err != nil {
			return nil, nil, schemaerr.Validation(fmt.Sprintf("%s: default value: %v", def.Name, err), nil)
		}
		ids, err := tx.RecordIDs(ctx, schema.ID)
		if err != nil {
			return nil, nil, schemaerr.Wrap(err, "list records")
		}
		if backfilled, err = tx.Backfill(ctx, field, ids, val); err != nil {
			return nil, nil, schemaerr.Wrap(err, "back-fill default")
		}
	}
	return field, &versioning.Change{
		Type:        store.ChangeFieldAdded,
		Description: fmt.Sprintf("Added field '%s' (%s)", def.Name, def.Type),
		Details: map[string]any{
			"field_name": def.Name,
			"field_id":   field.ID,
			"field_type": string(def.Type),
			"required":   def.Required,
			"backfilled": backfilled,
		},
		Actor: actor,
	}, nil
}

// RemoveField soft-deletes an active field, keeping its values for the
// retention window. With permanent set the field and its values are purged.
func (m *Manager) RemoveField(ctx context.Context, schemaID, name string, permanent bool, actor string) (bool, error) {
	_, err := m.mutate(ctx, "remove_field", schemaID, func(ctx context.Context, tx *store.Store, schema *store.SchemaRecord) (*versioning.Change, error) {
		return m.removeField(ctx, tx, schema, name, permanent, actor)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) removeField(ctx context.Context, tx *store.Store, schema *store.SchemaRecord, name string, permanent bool, actor string) (*versioning.Change, error) {
	analysis, err := m.engine.AnalyzeFieldRemoval(ctx, tx, schema.ID, name)
	if errors.Is(err, validation.ErrFieldNotFound) {
		return nil, schemaerr.NotFound("field %s not found in schema %s", name, schema.Name)
	}
	if err != nil {
		return nil, schemaerr.Wrap(err, "analyze field removal")
	}
	field, err := tx.FindActiveField(ctx, schema.ID, name)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load field")
	}
	if field == nil {
		return nil, schemaerr.NotFound("field %s not found in schema %s", name, schema.Name)
	}

	details := map[string]any{
		"field_name":      name,
		"field_id":        field.ID,
		"permanent":       permanent,
		"affected_values": analysis.AffectedValueCount,
		"non_null_values": analysis.NonNullValueCount,
		"risk_level":      string(analysis.RiskLevel),
	}
	desc := fmt.Sprintf("Removed field '%s'", name)
	if permanent {
		if analysis.DataLoss {
			m.logger.Warn("purging field with data", "schemaID", schema.ID, "field", name, "values", analysis.NonNullValueCount)
		}
		if _, err := tx.PurgeField(ctx, field.ID); err != nil {
			return nil, schemaerr.Wrap(err, "purge field")
		}
		details["purged"] = true
		desc = fmt.Sprintf("Permanently removed field '%s'", name)
	} else if err := tx.SoftDeleteField(ctx, field, m.now()); err != nil {
		return nil, schemaerr.Wrap(err, "soft delete field")
	}
	return &versioning.Change{Type: store.ChangeFieldRemoved, Description: desc, Details: details, Actor: actor}, nil
}

// ModifyFieldRequest lists the attributes to change. Nil members are left
// alone.
type ModifyFieldRequest struct {
	NewType        *fieldtype.Type        `json:"newType,omitempty"`
	NewRequired    *bool                  `json:"newRequired,omitempty"`
	NewConstraints *fieldtype.Constraints `json:"newConstraints,omitempty"`
	NewDescription *string                `json:"newDescription,omitempty"`
	NewDefault     *string                `json:"newDefault,omitempty"`

	// Strict overrides the configured type migration mode for this call.
	Strict *bool `json:"strict,omitempty"`
}

// FieldChange is the outcome of ModifyField.
type FieldChange struct {
	Field       *store.FieldRecord        `json:"field"`
	Changes     []string                  `json:"changes"`
	Version     int                       `json:"version"`
	Unconverted []store.ConversionFailure `json:"unconverted,omitempty"`
}

// ModifyField changes the type, required flag, constraints, default or
// description of an active field. A type change must be allowed by the
// compatibility matrix and every sampled value must convert; stored values
// are then re-encoded in place. New constraints are checked against every
// stored value. A call that changes nothing does not create a version.
func (m *Manager) ModifyField(ctx context.Context, schemaID, name string, req ModifyFieldRequest, actor string) (*FieldChange, error) {
	var out *FieldChange
	snap, err := m.mutate(ctx, "modify_field", schemaID, func(ctx context.Context, tx *store.Store, schema *store.SchemaRecord) (*versioning.Change, error) {
		fc, change, err := m.modifyField(ctx, tx, schema, name, req, actor)
		out = fc
		return change, err
	})
	if err != nil {
		return nil, err
	}
	if snap != nil {
		out.Version = snap.VersionNumber
	}
	return out, nil
}

func (m *Manager) modifyField(ctx context.Context, tx *store.Store, schema *store.SchemaRecord, name string, req ModifyFieldRequest, actor string) (*FieldChange, *versioning.Change, error) {
	field, err := tx.FindActiveField(ctx, schema.ID, name)
	if err != nil {
		return nil, nil, schemaerr.Wrap(err, "load field")
	}
	if field == nil {
		return nil, nil, schemaerr.NotFound("field %s not found in schema %s", name, schema.Name)
	}
	strict := m.cfg.StrictTypeMigration
	if req.Strict != nil {
		strict = *req.Strict
	}
	out := &FieldChange{Field: field, Changes: []string{}, Version: schema.Version}
	details := map[string]any{"field_name": name, "field_id": field.ID}
	oldType := field.FieldType

	if req.NewType != nil && *req.NewType != field.FieldType {
		newType := *req.NewType
		report, err := m.engine.ValidateTypeChange(ctx, tx, field.ID, field.FieldType, newType)
		if err != nil {
			return nil, nil, schemaerr.Wrap(err, "validate type change")
		}
		if req.NewConstraints != nil {
			report.Errors = dropConstraintFit(report.Errors)
		}
		if !report.Valid() {
			return nil, nil, reportError(report)
		}
		if field.DefaultValue != nil {
			converted, err := convertDefault(*field.DefaultValue, oldType, newType)
			if err != nil {
				return nil, nil, schemaerr.Validation(fmt.Sprintf("%s: default value %q does not convert to %s", name, *field.DefaultValue, newType), nil)
			}
			field.DefaultValue = &converted
		}
		outcome, err := tx.MigrateFieldValues(ctx, field.ID, newType)
		if err != nil {
			return nil, nil, schemaerr.Wrap(err, "migrate field values")
		}
		if len(outcome.Failures) > 0 {
			if strict {
				return nil, nil, schemaerr.Validation(
					fmt.Sprintf("%s: %d stored values do not convert to %s", name, len(outcome.Failures), newType),
					outcome.Failures)
			}
			out.Unconverted = outcome.Failures
			m.logger.Warn("values left unconverted", "schemaID", schema.ID, "field", name, "count", len(outcome.Failures))
		}
		field.FieldType = newType
		out.Changes = append(out.Changes, fmt.Sprintf("type: %s → %s", oldType, newType))
		details["old_type"] = string(oldType)
		details["new_type"] = string(newType)
		details["converted"] = outcome.Converted
		details["unconverted"] = len(outcome.Failures)
	}

	if req.NewConstraints != nil && !req.NewConstraints.Equal(field.Constraints) {
		report, err := m.engine.CheckValues(ctx, tx, field, field.FieldType, *req.NewConstraints)
		if err != nil {
			return nil, nil, schemaerr.Wrap(err, "validate constraints")
		}
		if !report.Valid() {
			return nil, nil, reportError(report)
		}
		field.Constraints = *req.NewConstraints
		out.Changes = append(out.Changes, "constraints changed")
	}

	if req.NewDefault != nil && (field.DefaultValue == nil || *field.DefaultValue != *req.NewDefault) {
		if _, err := fieldtype.ParseText(field.FieldType, *req.NewDefault); err != nil {
			return nil, nil, schemaerr.Validation(fmt.Sprintf("%s: default value: %v", name, err), nil)
		}
		before := "none"
		if field.DefaultValue != nil {
			before = *field.DefaultValue
		}
		field.DefaultValue = req.NewDefault
		out.Changes = append(out.Changes, fmt.Sprintf("default: %s → %s", before, *req.NewDefault))
	}
	touched := req.NewType != nil || req.NewConstraints != nil || req.NewDefault != nil
	if touched && field.DefaultValue != nil {
		if err := checkDefault(field); err != nil {
			return nil, nil, schemaerr.Validation(fmt.Sprintf("%s: default value: %v", name, err), nil)
		}
	}

	if req.NewRequired != nil && *req.NewRequired != field.IsRequired {
		if *req.NewRequired {
			missing, err := tx.RecordsMissingValue(ctx, schema.ID, field.ID)
			if err != nil {
				return nil, nil, schemaerr.Wrap(err, "find records without a value")
			}
			if len(missing) > 0 {
				if field.DefaultValue == nil {
					return nil, nil, schemaerr.Validation(
						fmt.Sprintf("%s: %d records have no value; set a default to make the field required", name, len(missing)),
						[]validation.Issue{{Field: name, Message: "missing value", RecordIDs: missing, Severity: validation.SeverityError}})
				}
				val, err := fieldtype.ParseText(field.FieldType, *field.DefaultValue)
				if err != nil {
					return nil, nil, schemaerr.Validation(fmt.Sprintf("%s: default value: %v", name, err), nil)
				}
				n, err := tx.Backfill(ctx, field, missing, val)
				if err != nil {
					return nil, nil, schemaerr.Wrap(err, "back-fill default")
				}
				details["backfilled"] = n
			}
		}
		out.Changes = append(out.Changes, fmt.Sprintf("required: %t → %t", field.IsRequired, *req.NewRequired))
		field.IsRequired = *req.NewRequired
	}

	if req.NewDescription != nil && *req.NewDescription != field.Description {
		field.Description = *req.NewDescription
		out.Changes = append(out.Changes, "description updated")
	}

	if len(out.Changes) == 0 {
		return out, nil, nil
	}
	if err := tx.SaveField(ctx, field); err != nil {
		return nil, nil, schemaerr.Wrap(err, "save field")
	}
	details["changes"] = out.Changes
	return out, &versioning.Change{
		Type:        store.ChangeFieldModified,
		Description: fmt.Sprintf("Modified field '%s': %s", name, strings.Join(out.Changes, ", ")),
		Details:     details,
		Actor:       actor,
	}, nil
}

// dropConstraintFit removes the findings about existing constraints not
// fitting a new type, for calls that replace the constraints as well.
func dropConstraintFit(issues []validation.Issue) []validation.Issue {
	out := issues[:0]
	for _, issue := range issues {
		if !strings.HasPrefix(issue.Message, "existing constraints do not fit") {
			out = append(out, issue)
		}
	}
	return out
}

func convertDefault(text string, from, to fieldtype.Type) (string, error) {
	v, err := fieldtype.ParseText(from, text)
	if err != nil {
		return "", err
	}
	if v, err = fieldtype.Convert(v, from, to); err != nil {
		return "", err
	}
	return fieldtype.Format(to, v)
}

func checkDefault(f *store.FieldRecord) error {
	v, err := fieldtype.ParseText(f.FieldType, *f.DefaultValue)
	if err != nil {
		return err
	}
	checker, err := f.Constraints.Compile(f.FieldType)
	if err != nil {
		return err
	}
	if msgs := checker.Violations(v); len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// PurgeField permanently deletes a soft-deleted field and its values.
func (m *Manager) PurgeField(ctx context.Context, schemaID, fieldID, actor string) (int64, error) {
	var purged int64
	_, err := m.mutate(ctx, "purge_field", schemaID, func(ctx context.Context, tx *store.Store, schema *store.SchemaRecord) (*versioning.Change, error) {
		field, err := tx.GetField(ctx, fieldID)
		if err != nil {
			return nil, schemaerr.Wrap(err, "load field")
		}
		if field == nil || field.SchemaID != schema.ID {
			return nil, schemaerr.NotFound("field %s not found in schema %s", fieldID, schema.Name)
		}
		if !field.IsDeleted() {
			return nil, schemaerr.Validation(fmt.Sprintf("field %s is active; remove it before purging", field.FieldName), nil)
		}
		if purged, err = tx.PurgeField(ctx, field.ID); err != nil {
			return nil, schemaerr.Wrap(err, "purge field")
		}
		return &versioning.Change{
			Type:        store.ChangeFieldRemoved,
			Description: fmt.Sprintf("Purged field '%s'", field.FieldName),
			Details: map[string]any{
				"field_name":     field.FieldName,
				"field_id":       field.ID,
				"purged":         true,
				"values_deleted": purged,
			},
			Actor: actor,
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// PurgeReport summarizes a retention sweep.
type PurgeReport struct {
	Cutoff time.Time `json:"cutoff"`
	Fields int       `json:"fields"`
	Values int64     `json:"values"`
}

// PurgeExpiredFields purges every field soft-deleted before cutoff, each in
// its own mutation. Failures do not stop the sweep; they are joined into
// the returned error.
func (m *Manager) PurgeExpiredFields(ctx context.Context, cutoff time.Time, actor string) (*PurgeReport, error) {
	expired, err := m.store.ListExpiredFields(ctx, cutoff)
	if err != nil {
		return nil, schemaerr.Wrap(err, "list expired fields")
	}
	report := &PurgeReport{Cutoff: cutoff}
	var errs []error
	for _, f := range expired {
		n, err := m.PurgeField(ctx, f.SchemaID, f.ID, actor)
		if err != nil {
			if schemaerr.Is(err, schemaerr.KindNotFound) || schemaerr.Is(err, schemaerr.KindValidation) {
				continue
			}
			errs = append(errs, fmt.Errorf("field %s: %w", f.ID, err))
			continue
		}
		report.Fields++
		report.Values += n
	}
	return report, errors.Join(errs...)
}
