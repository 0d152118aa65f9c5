package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
)

// ErrFieldNotFound is returned when the field under validation does not exist.
var ErrFieldNotFound = errors.New("field not found")

// ValueReader is the read-only slice of the catalog store the engine needs.
// *store.Store satisfies it, including inside a transaction.
type ValueReader interface {
	GetField(ctx context.Context, id string) (*store.FieldRecord, error)
	FindActiveField(ctx context.Context, schemaID, name string) (*store.FieldRecord, error)
	CountValues(ctx context.Context, fieldID string) (store.ValueCounts, error)
	SampleValues(ctx context.Context, fieldID string, limit int) ([]store.FieldValueRecord, error)
	ScanValues(ctx context.Context, fieldID string, fn func(*store.FieldValueRecord) error) error
}

// Config tunes the engine.
type Config struct {
	// SampleSize bounds the values inspected for a type change.
	SampleSize int `mapstructure:"sampleSize"`

	// LargeSchemaThreshold is the record count above which adding a field
	// produces a performance warning.
	LargeSchemaThreshold int64 `mapstructure:"largeSchemaThreshold"`

	// MaxReportedIssues caps the per-value issues collected by full scans.
	MaxReportedIssues int `mapstructure:"maxReportedIssues"`
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{SampleSize: 100, LargeSchemaThreshold: 100000, MaxReportedIssues: 50}
}

// Engine is the validation engine. It holds configuration only and is safe
// for concurrent use.
type Engine struct {
	cfg    Config
	layers []Layer
}

// New creates an Engine. Zero config values fall back to the defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.LargeSchemaThreshold <= 0 {
		cfg.LargeSchemaThreshold = def.LargeSchemaThreshold
	}
	if cfg.MaxReportedIssues <= 0 {
		cfg.MaxReportedIssues = def.MaxReportedIssues
	}
	return &Engine{cfg: cfg, layers: DefinitionLayers()}
}

// ValidateTypeChange rejects pairs the compatibility matrix forbids and, for
// allowed pairs, reports sampled values that fail literal conversion.
func (e *Engine) ValidateTypeChange(ctx context.Context, r ValueReader, fieldID string, oldType, newType fieldtype.Type) (*Report, error) {
	report := &Report{}
	field, err := r.GetField(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	if field == nil {
		return nil, ErrFieldNotFound
	}
	name := field.FieldName

	if !newType.Valid() {
		report.addError(name, fmt.Sprintf("unsupported field type %q", newType))
		return report, nil
	}
	compat := fieldtype.CompatibilityOf(oldType, newType)
	if compat == fieldtype.Rejected {
		report.addError(name, fmt.Sprintf("cannot convert %s to %s", oldType, newType))
		return report, nil
	}

	sample, err := r.SampleValues(ctx, fieldID, e.cfg.SampleSize)
	if err != nil {
		return nil, err
	}
	for i := range sample {
		row := &sample[i]
		v, err := row.Decode()
		if err == nil {
			_, err = fieldtype.Convert(v, row.ValueType, newType)
		}
		if err != nil {
			report.addError(name, fmt.Sprintf("record %s: %v", row.RecordID, err), row.RecordID)
		}
	}
	if problems := field.Constraints.Check(newType); len(problems) > 0 {
		for _, p := range problems {
			report.addError(name, "existing constraints do not fit the new type: "+p)
		}
	}
	return report, nil
}

// ValidateConstraints checks every stored value of a field against
// newConstraints and reports the records that violate them.
func (e *Engine) ValidateConstraints(ctx context.Context, r ValueReader, fieldID string, newConstraints fieldtype.Constraints) (*Report, error) {
	field, err := r.GetField(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	if field == nil {
		return nil, ErrFieldNotFound
	}
	return e.CheckValues(ctx, r, field, field.FieldType, newConstraints)
}

// CheckValues scans every stored value of field as if the field had type t
// and constraints c. Values that are not convertible to t are skipped; type
// conversion is reported by ValidateTypeChange.
func (e *Engine) CheckValues(ctx context.Context, r ValueReader, field *store.FieldRecord, t fieldtype.Type, c fieldtype.Constraints) (*Report, error) {
	report := &Report{}
	name := field.FieldName
	if problems := c.Check(t); len(problems) > 0 {
		for _, p := range problems {
			report.addError(name, p)
		}
		return report, nil
	}
	checker, err := c.Compile(t)
	if err != nil {
		return nil, err
	}

	var (
		violations int
		seen       = map[string]string{}
	)
	err = r.ScanValues(ctx, field.ID, func(row *store.FieldValueRecord) error {
		v, err := row.Decode()
		if err != nil || v == nil {
			return nil
		}
		if v, err = fieldtype.Convert(v, row.ValueType, t); err != nil {
			return nil
		}
		msgs := checker.Violations(v)
		if c.Unique {
			key, _ := fieldtype.Format(t, v)
			if first, dup := seen[key]; dup {
				msgs = append(msgs, fmt.Sprintf("value %q duplicates record %s", key, first))
			} else {
				seen[key] = row.RecordID
			}
		}
		for _, msg := range msgs {
			violations++
			if violations <= e.cfg.MaxReportedIssues {
				report.addError(name, fmt.Sprintf("record %s: %s", row.RecordID, msg), row.RecordID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if extra := violations - e.cfg.MaxReportedIssues; extra > 0 {
		report.addError(name, fmt.Sprintf("%d more violations not listed", extra))
	}
	return report, nil
}

// RemovalAnalysis is the read-only impact report of removing a field.
type RemovalAnalysis struct {
	FieldName          string         `json:"fieldName"`
	FieldType          fieldtype.Type `json:"fieldType"`
	Required           bool           `json:"required"`
	AffectedValueCount int64          `json:"affectedValueCount"`
	NonNullValueCount  int64          `json:"nonNullValueCount"`
	DataLoss           bool           `json:"dataLoss"`
	RiskLevel          RiskLevel      `json:"riskLevel"`
	Recommendation     string         `json:"recommendation"`
}

// AnalyzeFieldRemoval reports how much data removing an active field would
// affect.
func (e *Engine) AnalyzeFieldRemoval(ctx context.Context, r ValueReader, schemaID, fieldName string) (*RemovalAnalysis, error) {
	field, err := r.FindActiveField(ctx, schemaID, fieldName)
	if err != nil {
		return nil, err
	}
	if field == nil {
		return nil, ErrFieldNotFound
	}
	counts, err := r.CountValues(ctx, field.ID)
	if err != nil {
		return nil, err
	}
	a := &RemovalAnalysis{
		FieldName:          field.FieldName,
		FieldType:          field.FieldType,
		Required:           field.IsRequired,
		AffectedValueCount: counts.Total,
		NonNullValueCount:  counts.NonNull,
		DataLoss:           counts.NonNull > 0,
	}
	switch {
	case counts.NonNull > 100:
		a.RiskLevel = RiskCritical
		a.Recommendation = "many records hold data for this field; export it or keep the soft delete until consumers have migrated"
	case counts.NonNull > 0:
		a.RiskLevel = RiskHigh
		a.Recommendation = "some records hold data for this field; prefer a soft delete so it can be restored"
	default:
		a.RiskLevel = RiskLow
		a.Recommendation = "no stored data; removal is safe"
	}
	return a, nil
}
