package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
	"github.com/kubeflow/schema-registry/pkg/validation"
)

// perValueCost is the rough time one value write takes, used for duration
// estimates.
const perValueCost = time.Millisecond

// Assessment is the impact report of a proposed, unapplied change.
type Assessment struct {
	Operation         string               `json:"operation"`
	SchemaID          string               `json:"schemaId"`
	FieldName         string               `json:"fieldName"`
	FieldType         fieldtype.Type       `json:"fieldType,omitempty"`
	NewType           fieldtype.Type       `json:"newType,omitempty"`
	AffectedRecords   int64                `json:"affectedRecords"`
	AffectedValues    int64                `json:"affectedValues"`
	NonNullValues     int64                `json:"nonNullValues"`
	DataLoss          bool                 `json:"dataLoss"`
	RiskLevel         validation.RiskLevel `json:"riskLevel"`
	Reversible        bool                 `json:"reversible"`
	RequiresDefault   bool                 `json:"requiresDefault"`
	RequiresMigration bool                 `json:"requiresMigration"`
	EstimatedDuration time.Duration        `json:"estimatedDuration"`
	Issues            []validation.Issue   `json:"issues,omitempty"`
	Recommendations   []string             `json:"recommendations"`
}

// Analyzer estimates the consequences of schema changes without taking
// locks or writing anything.
type Analyzer struct {
	store  *store.Store
	engine *validation.Engine
	large  int64
}

// NewAnalyzer creates an Analyzer. largeSchema is the record count above
// which additions are recommended for a low-traffic window.
func NewAnalyzer(s *store.Store, engine *validation.Engine, largeSchema int64) *Analyzer {
	if largeSchema <= 0 {
		largeSchema = validation.DefaultConfig().LargeSchemaThreshold
	}
	return &Analyzer{store: s, engine: engine, large: largeSchema}
}

func (a *Analyzer) requireSchema(ctx context.Context, schemaID string) (*store.SchemaRecord, error) {
	s, err := a.store.GetSchema(ctx, schemaID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load schema")
	}
	if s == nil {
		return nil, schemaerr.NotFound("schema %s not found", schemaID)
	}
	return s, nil
}

// AnalyzeFieldAddition assesses adding def to a schema.
func (a *Analyzer) AnalyzeFieldAddition(ctx context.Context, schemaID string, def fieldtype.Definition) (*Assessment, error) {
	schema, err := a.requireSchema(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	records, err := a.store.CountRecords(ctx, schemaID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "count records")
	}
	existing, err := a.store.FindActiveField(ctx, schemaID, def.Name)
	if err != nil {
		return nil, schemaerr.Wrap(err, "check field name")
	}

	report := a.engine.ValidateAddField(def, records)
	if existing != nil {
		report.Errors = append(report.Errors, validation.Issue{
			Field: def.Name, Message: fmt.Sprintf("field already exists in schema %s", schema.Name), Severity: validation.SeverityError,
		})
	}
	out := &Assessment{
		Operation:       "add_field",
		SchemaID:        schemaID,
		FieldName:       def.Name,
		FieldType:       def.Type,
		AffectedRecords: records,
		RiskLevel:       validation.RiskLow,
		Reversible:      true,
		RequiresDefault: def.Required && records > 0,
		Issues:          append(report.Errors, report.Warnings...),
		Recommendations: []string{},
	}
	if def.Required {
		out.RiskLevel = validation.RiskMedium
		if out.RequiresDefault {
			out.AffectedValues = records
			out.EstimatedDuration = time.Duration(records) * perValueCost
		}
		out.Recommendations = append(out.Recommendations, "provide a default value for the required field")
	}
	if !report.Valid() {
		out.RiskLevel = validation.RiskHigh
	}
	if records > a.large {
		out.Recommendations = append(out.Recommendations, "add the field during a low-traffic period")
	}
	return out, nil
}

// AnalyzeFieldRemoval assesses removing a field. A soft delete keeps the
// values restorable, so only a permanent removal loses data.
func (a *Analyzer) AnalyzeFieldRemoval(ctx context.Context, schemaID, fieldName string, permanent bool) (*Assessment, error) {
	if _, err := a.requireSchema(ctx, schemaID); err != nil {
		return nil, err
	}
	r, err := a.engine.AnalyzeFieldRemoval(ctx, a.store, schemaID, fieldName)
	if errors.Is(err, validation.ErrFieldNotFound) {
		return nil, schemaerr.NotFound("field %s not found in schema %s", fieldName, schemaID)
	}
	if err != nil {
		return nil, schemaerr.Wrap(err, "analyze field removal")
	}
	out := &Assessment{
		Operation:       "remove_field",
		SchemaID:        schemaID,
		FieldName:       fieldName,
		FieldType:       r.FieldType,
		AffectedValues:  r.AffectedValueCount,
		NonNullValues:   r.NonNullValueCount,
		RiskLevel:       r.RiskLevel,
		Recommendations: []string{r.Recommendation},
	}
	if permanent {
		out.Operation = "purge_field"
		out.DataLoss = r.DataLoss
		out.EstimatedDuration = time.Duration(r.AffectedValueCount) * perValueCost
		if r.NonNullValueCount > 100 {
			out.Recommendations = append(out.Recommendations, "export the data before deleting it")
		}
		return out, nil
	}
	out.Reversible = true
	if r.DataLoss {
		out.RiskLevel = validation.RiskMedium
	}
	return out, nil
}

// AnalyzeTypeChange assesses changing an active field to newType.
func (a *Analyzer) AnalyzeTypeChange(ctx context.Context, schemaID, fieldName string, newType fieldtype.Type) (*Assessment, error) {
	if _, err := a.requireSchema(ctx, schemaID); err != nil {
		return nil, err
	}
	field, err := a.store.FindActiveField(ctx, schemaID, fieldName)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load field")
	}
	if field == nil {
		return nil, schemaerr.NotFound("field %s not found in schema %s", fieldName, schemaID)
	}
	counts, err := a.store.CountValues(ctx, field.ID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "count values")
	}
	report, err := a.engine.ValidateTypeChange(ctx, a.store, field.ID, field.FieldType, newType)
	if err != nil {
		return nil, schemaerr.Wrap(err, "validate type change")
	}

	out := &Assessment{
		Operation:         "change_type",
		SchemaID:          schemaID,
		FieldName:         fieldName,
		FieldType:         field.FieldType,
		NewType:           newType,
		AffectedValues:    counts.Total,
		NonNullValues:     counts.NonNull,
		Reversible:        fieldtype.Reversible(field.FieldType, newType),
		RequiresMigration: field.FieldType != newType,
		EstimatedDuration: time.Duration(counts.Total) * perValueCost,
		Issues:            report.Errors,
		Recommendations:   []string{"test the conversion on a copy of the data first"},
	}
	switch {
	case !report.Valid():
		out.RiskLevel = validation.RiskHigh
		out.Recommendations = append(out.Recommendations, "consider adding a new field instead of converting this one")
	case fieldtype.CompatibilityOf(field.FieldType, newType) == fieldtype.Conditional:
		out.RiskLevel = validation.RiskMedium
	default:
		out.RiskLevel = validation.RiskLow
	}
	if counts.Total > 1000 {
		out.Recommendations = append(out.Recommendations, "back up the values before converting")
	}
	return out, nil
}
