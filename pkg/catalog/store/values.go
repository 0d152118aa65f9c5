package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
)

const (
	valueBatchSize = 500
	nonNullClause  = "(value_text IS NOT NULL OR value_int IS NOT NULL OR value_float IS NOT NULL OR " +
		"value_bool IS NOT NULL OR value_date IS NOT NULL OR value_json IS NOT NULL)"
)

// Encode stores the canonical value v of type t in the matching slot and
// clears every other slot.
func (v *FieldValueRecord) Encode(t fieldtype.Type, val any) error {
	v.ValueType = t
	v.ValueText, v.ValueInt, v.ValueFloat, v.ValueBool, v.ValueDate, v.ValueJSON = nil, nil, nil, nil, nil, nil
	if val == nil {
		return nil
	}
	switch t {
	case fieldtype.String:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
		v.ValueText = &s
	case fieldtype.Integer:
		i, ok := val.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", val)
		}
		v.ValueInt = &i
	case fieldtype.Float:
		f, ok := val.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", val)
		}
		v.ValueFloat = &f
	case fieldtype.Boolean:
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", val)
		}
		v.ValueBool = &b
	case fieldtype.Date:
		ts, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", val)
		}
		ts = ts.UTC()
		v.ValueDate = &ts
	case fieldtype.JSON, fieldtype.Array, fieldtype.Object:
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		v.ValueJSON = datatypes.JSON(raw)
	default:
		return fmt.Errorf("unsupported field type %q", t)
	}
	return nil
}

// Decode returns the canonical value held by the slot of ValueType.
func (v *FieldValueRecord) Decode() (any, error) {
	switch v.ValueType {
	case fieldtype.String:
		if v.ValueText == nil {
			return nil, nil
		}
		return *v.ValueText, nil
	case fieldtype.Integer:
		if v.ValueInt == nil {
			return nil, nil
		}
		return *v.ValueInt, nil
	case fieldtype.Float:
		if v.ValueFloat == nil {
			return nil, nil
		}
		return *v.ValueFloat, nil
	case fieldtype.Boolean:
		if v.ValueBool == nil {
			return nil, nil
		}
		return *v.ValueBool, nil
	case fieldtype.Date:
		if v.ValueDate == nil {
			return nil, nil
		}
		return v.ValueDate.UTC(), nil
	case fieldtype.JSON, fieldtype.Array, fieldtype.Object:
		if len(v.ValueJSON) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(v.ValueJSON, &out); err != nil {
			return nil, fmt.Errorf("corrupt %s value: %w", v.ValueType, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %q", v.ValueType)
}

// IsNull reports whether no slot is populated.
func (v *FieldValueRecord) IsNull() bool {
	return v.ValueText == nil && v.ValueInt == nil && v.ValueFloat == nil &&
		v.ValueBool == nil && v.ValueDate == nil && len(v.ValueJSON) == 0
}

// ValueCounts summarizes the stored values of one field.
type ValueCounts struct {
	Total   int64 `json:"total"`
	NonNull int64 `json:"nonNull"`
}

// PutValue writes the value of field for a record, replacing any previous
// value. val must already be canonical for the field's current type.
func (s *Store) PutValue(ctx context.Context, recordID string, field *FieldRecord, val any) error {
	var row FieldValueRecord
	err := s.db.WithContext(ctx).Where("record_id = ? AND field_id = ?", recordID, field.ID).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = FieldValueRecord{ID: uuid.New().String(), RecordID: recordID, FieldID: field.ID}
	case err != nil:
		return fmt.Errorf("failed to load field value: %w", err)
	}
	if err := row.Encode(field.FieldType, val); err != nil {
		return fmt.Errorf("field %s: %w", field.FieldName, err)
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save field value: %w", err)
	}
	return nil
}

// FindValueOwner returns the ID of a record other than excludeRecordID that
// holds val for field in the slot of the field's current type, or "" when no
// such record exists.
func (s *Store) FindValueOwner(ctx context.Context, field *FieldRecord, val any, excludeRecordID string) (string, error) {
	if val == nil {
		return "", nil
	}
	var want FieldValueRecord
	if err := want.Encode(field.FieldType, val); err != nil {
		return "", fmt.Errorf("field %s: %w", field.FieldName, err)
	}
	q := s.db.WithContext(ctx).Model(&FieldValueRecord{}).
		Where("field_id = ? AND value_type = ? AND record_id <> ?", field.ID, field.FieldType, excludeRecordID)
	switch field.FieldType {
	case fieldtype.String:
		q = q.Where("value_text = ?", *want.ValueText)
	case fieldtype.Integer:
		q = q.Where("value_int = ?", *want.ValueInt)
	case fieldtype.Float:
		q = q.Where("value_float = ?", *want.ValueFloat)
	case fieldtype.Boolean:
		q = q.Where("value_bool = ?", *want.ValueBool)
	case fieldtype.Date:
		q = q.Where("value_date = ?", *want.ValueDate)
	default:
		// Structured types cannot be unique.
		return "", nil
	}
	var ids []string
	if err := q.Order("record_id ASC").Limit(1).Pluck("record_id", &ids).Error; err != nil {
		return "", fmt.Errorf("failed to look up duplicate value: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// CreateValues inserts new value rows in batches.
func (s *Store) CreateValues(ctx context.Context, rows []FieldValueRecord) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.New().String()
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, valueBatchSize).Error; err != nil {
		return fmt.Errorf("failed to create field values: %w", err)
	}
	return nil
}

// ValuesForRecord returns every value row of a record.
func (s *Store) ValuesForRecord(ctx context.Context, recordID string) ([]FieldValueRecord, error) {
	var out []FieldValueRecord
	if err := s.db.WithContext(ctx).Where("record_id = ?", recordID).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load record values: %w", err)
	}
	return out, nil
}

// CountValues counts the value rows of a field.
func (s *Store) CountValues(ctx context.Context, fieldID string) (ValueCounts, error) {
	var c ValueCounts
	db := s.db.WithContext(ctx)
	if err := db.Model(&FieldValueRecord{}).Where("field_id = ?", fieldID).Count(&c.Total).Error; err != nil {
		return c, fmt.Errorf("failed to count field values: %w", err)
	}
	if err := db.Model(&FieldValueRecord{}).Where("field_id = ?", fieldID).Where(nonNullClause).Count(&c.NonNull).Error; err != nil {
		return c, fmt.Errorf("failed to count field values: %w", err)
	}
	return c, nil
}

// SampleValues returns up to limit non-null values of a field, oldest first.
func (s *Store) SampleValues(ctx context.Context, fieldID string, limit int) ([]FieldValueRecord, error) {
	var out []FieldValueRecord
	err := s.db.WithContext(ctx).
		Where("field_id = ?", fieldID).Where(nonNullClause).
		Order("created_at ASC, id ASC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sample field values: %w", err)
	}
	return out, nil
}

// ScanValues calls fn for every value row of a field in primary-key order,
// loading them in batches. The context is checked between batches.
func (s *Store) ScanValues(ctx context.Context, fieldID string, fn func(*FieldValueRecord) error) error {
	var batch []FieldValueRecord
	res := s.db.WithContext(ctx).Where("field_id = ?", fieldID).
		FindInBatches(&batch, valueBatchSize, func(_ *gorm.DB, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := range batch {
				if err := fn(&batch[i]); err != nil {
					return err
				}
			}
			return nil
		})
	if res.Error != nil {
		return fmt.Errorf("failed to scan field values: %w", res.Error)
	}
	return nil
}

// SaveValue writes every column of an existing value row.
func (s *Store) SaveValue(ctx context.Context, row *FieldValueRecord) error {
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("failed to save field value: %w", err)
	}
	return nil
}

// RecordsMissingValue returns the IDs of records of a schema that hold no
// non-null value for a field.
func (s *Store) RecordsMissingValue(ctx context.Context, schemaID, fieldID string) ([]string, error) {
	present := s.db.WithContext(ctx).Model(&FieldValueRecord{}).
		Select("record_id").Where("field_id = ?", fieldID).Where(nonNullClause)
	var ids []string
	err := s.db.WithContext(ctx).Model(&MetadataRecord{}).
		Where("schema_id = ? AND id NOT IN (?)", schemaID, present).
		Order("id ASC").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find records missing a value: %w", err)
	}
	return ids, nil
}

// Backfill writes val for field into every listed record, replacing null
// or missing values. It returns the number of values written.
func (s *Store) Backfill(ctx context.Context, field *FieldRecord, recordIDs []string, val any) (int64, error) {
	var written int64
	for _, rid := range recordIDs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := s.PutValue(ctx, rid, field, val); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// ConversionFailure describes one value that could not be re-encoded.
type ConversionFailure struct {
	RecordID string `json:"recordId"`
	Value    string `json:"value"`
	Reason   string `json:"reason"`
}

// MigrationOutcome reports the result of re-encoding a field's values.
type MigrationOutcome struct {
	Converted int64               `json:"converted"`
	Failures  []ConversionFailure `json:"failures,omitempty"`
}

// MigrateFieldValues re-encodes every value of a field into the slot of
// type to. Values that fail conversion are left untouched and reported.
func (s *Store) MigrateFieldValues(ctx context.Context, fieldID string, to fieldtype.Type) (*MigrationOutcome, error) {
	out := &MigrationOutcome{}
	err := s.ScanValues(ctx, fieldID, func(row *FieldValueRecord) error {
		if row.ValueType == to {
			return nil
		}
		cur, err := row.Decode()
		if err != nil {
			out.Failures = append(out.Failures, ConversionFailure{RecordID: row.RecordID, Reason: err.Error()})
			return nil
		}
		next, err := fieldtype.Convert(cur, row.ValueType, to)
		if err != nil {
			text, _ := fieldtype.Format(row.ValueType, cur)
			out.Failures = append(out.Failures, ConversionFailure{RecordID: row.RecordID, Value: text, Reason: err.Error()})
			return nil
		}
		if err := row.Encode(to, next); err != nil {
			return err
		}
		if err := s.SaveValue(ctx, row); err != nil {
			return err
		}
		out.Converted++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
