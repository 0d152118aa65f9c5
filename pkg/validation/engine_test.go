package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/catalog/store/storetest"
)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store  *store.Store
	schema *store.SchemaRecord
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New(t)
	ctx := context.Background()
	at := &store.AssetTypeRecord{Name: "dataset"}
	require.NoError(t, s.CreateAssetType(ctx, at))
	schema := &store.SchemaRecord{Name: "Invoice", Version: 1, AssetTypeID: at.ID, IsActive: true}
	require.NoError(t, s.CreateSchema(ctx, schema))
	return &fixture{store: s, schema: schema}
}

func (f *fixture) field(t *testing.T, name string, typ fieldtype.Type, values ...any) (*store.FieldRecord, []string) {
	t.Helper()
	ctx := context.Background()
	fr := &store.FieldRecord{SchemaID: f.schema.ID, FieldName: name, FieldType: typ}
	require.NoError(t, f.store.CreateField(ctx, fr))
	var ids []string
	for _, v := range values {
		rec := &store.MetadataRecord{SchemaID: f.schema.ID}
		require.NoError(t, f.store.CreateRecord(ctx, rec))
		require.NoError(t, f.store.PutValue(ctx, rec.ID, fr, v))
		ids = append(ids, rec.ID)
	}
	return fr, ids
}

func TestValidateFieldDefinitions(t *testing.T) {
	e := New(Config{})
	tests := []struct {
		name    string
		defs    []fieldtype.Definition
		wantErr int
	}{
		{
			name: "valid batch",
			defs: []fieldtype.Definition{
				{Name: "amount", Type: fieldtype.Float, Required: true},
				{Name: "code", Type: fieldtype.String, Constraints: fieldtype.Constraints{Pattern: "^[A-Z]+$"}, Default: ptr("ABC")},
			},
		},
		{
			name:    "bad identifier",
			defs:    []fieldtype.Definition{{Name: "2fast", Type: fieldtype.String}},
			wantErr: 1,
		},
		{
			name: "duplicate names",
			defs: []fieldtype.Definition{
				{Name: "a", Type: fieldtype.String},
				{Name: "a", Type: fieldtype.Integer},
			},
			wantErr: 1,
		},
		{
			name:    "unsupported type stops later layers",
			defs:    []fieldtype.Definition{{Name: "x", Type: "blob", Constraints: fieldtype.Constraints{Pattern: "("}}},
			wantErr: 1,
		},
		{
			name:    "pattern on integer",
			defs:    []fieldtype.Definition{{Name: "n", Type: fieldtype.Integer, Constraints: fieldtype.Constraints{Pattern: "^1"}}},
			wantErr: 1,
		},
		{
			name:    "default violates constraint",
			defs:    []fieldtype.Definition{{Name: "n", Type: fieldtype.Integer, Default: ptr("500"), Constraints: fieldtype.Constraints{Max: ptr(100.0)}}},
			wantErr: 1,
		},
		{
			name:    "default of wrong type",
			defs:    []fieldtype.Definition{{Name: "n", Type: fieldtype.Integer, Default: ptr("abc")}},
			wantErr: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := e.ValidateFieldDefinitions(tt.defs)
			assert.Len(t, report.Errors, tt.wantErr, report.Summary())
			assert.Equal(t, tt.wantErr == 0, report.Valid())
		})
	}
}

func TestValidateAddField(t *testing.T) {
	e := New(Config{LargeSchemaThreshold: 10})

	report := e.ValidateAddField(fieldtype.Definition{Name: "owner", Type: fieldtype.String, Required: true}, 3)
	assert.False(t, report.Valid())

	report = e.ValidateAddField(fieldtype.Definition{Name: "owner", Type: fieldtype.String, Required: true}, 0)
	assert.True(t, report.Valid())

	report = e.ValidateAddField(fieldtype.Definition{Name: "owner", Type: fieldtype.String, Required: true, Default: ptr("n/a")}, 11)
	assert.True(t, report.Valid())
	assert.Len(t, report.Warnings, 1)

	code := fieldtype.Definition{Name: "code", Type: fieldtype.String, Required: true, Default: ptr("X"), Constraints: fieldtype.Constraints{Unique: true}}
	report = e.ValidateAddField(code, 2)
	require.False(t, report.Valid())
	assert.Equal(t, "code", report.Errors[0].Field)
	assert.True(t, e.ValidateAddField(code, 1).Valid())
}

func TestValidateTypeChange(t *testing.T) {
	ctx := context.Background()
	e := New(Config{})

	t.Run("whole floats convert to integer", func(t *testing.T) {
		f := newFixture(t)
		field, _ := f.field(t, "amount", fieldtype.Float, 10.0, 20.0, 30.0)
		report, err := e.ValidateTypeChange(ctx, f.store, field.ID, fieldtype.Float, fieldtype.Integer)
		require.NoError(t, err)
		assert.True(t, report.Valid(), report.Summary())
	})

	t.Run("fractional value is reported with its record", func(t *testing.T) {
		f := newFixture(t)
		field, ids := f.field(t, "amount", fieldtype.Float, 10.0, 10.5)
		report, err := e.ValidateTypeChange(ctx, f.store, field.ID, fieldtype.Float, fieldtype.Integer)
		require.NoError(t, err)
		assert.False(t, report.Valid())
		assert.Equal(t, []string{ids[1]}, report.RecordIDs())
	})

	t.Run("rejected pair", func(t *testing.T) {
		f := newFixture(t)
		field, _ := f.field(t, "meta", fieldtype.Object)
		report, err := e.ValidateTypeChange(ctx, f.store, field.ID, fieldtype.Object, fieldtype.Array)
		require.NoError(t, err)
		assert.False(t, report.Valid())
	})

	t.Run("missing field", func(t *testing.T) {
		f := newFixture(t)
		_, err := e.ValidateTypeChange(ctx, f.store, "nope", fieldtype.String, fieldtype.Integer)
		assert.ErrorIs(t, err, ErrFieldNotFound)
	})
}

func TestValidateConstraints(t *testing.T) {
	ctx := context.Background()
	e := New(Config{})
	f := newFixture(t)
	field, ids := f.field(t, "title", fieldtype.String, "short", "a much longer title", "mid title", nil)

	report, err := e.ValidateConstraints(ctx, f.store, field.ID, fieldtype.Constraints{MaxLength: ptr(10)})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, report.RecordIDs())

	report, err = e.ValidateConstraints(ctx, f.store, field.ID, fieldtype.Constraints{Enum: []any{"short", "mid title", "a much longer title"}})
	require.NoError(t, err)
	assert.True(t, report.Valid())

	report, err = e.ValidateConstraints(ctx, f.store, field.ID, fieldtype.Constraints{Min: ptr(1.0)})
	require.NoError(t, err)
	assert.False(t, report.Valid())

	dupField, dupIDs := f.field(t, "sku", fieldtype.String, "A", "B", "A")
	report, err = e.ValidateConstraints(ctx, f.store, dupField.ID, fieldtype.Constraints{Unique: true})
	require.NoError(t, err)
	dups := report.RecordIDs()
	require.Len(t, dups, 1)
	assert.Contains(t, []string{dupIDs[0], dupIDs[2]}, dups[0])
}

func TestAnalyzeFieldRemoval(t *testing.T) {
	ctx := context.Background()
	e := New(Config{})
	f := newFixture(t)
	f.field(t, "empty", fieldtype.String)
	f.field(t, "some", fieldtype.Integer, int64(1), nil)

	a, err := e.AnalyzeFieldRemoval(ctx, f.store, f.schema.ID, "empty")
	require.NoError(t, err)
	assert.Equal(t, RiskLow, a.RiskLevel)
	assert.False(t, a.DataLoss)

	a, err = e.AnalyzeFieldRemoval(ctx, f.store, f.schema.ID, "some")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, a.RiskLevel)
	assert.Equal(t, int64(2), a.AffectedValueCount)
	assert.Equal(t, int64(1), a.NonNullValueCount)
	assert.True(t, a.DataLoss)

	_, err = e.AnalyzeFieldRemoval(ctx, f.store, f.schema.ID, "missing")
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestValidateRecordValues(t *testing.T) {
	e := New(Config{})
	fields := []store.FieldRecord{
		{ID: "f1", FieldName: "amount", FieldType: fieldtype.Float, IsRequired: true, State: store.FieldActive},
		{ID: "f2", FieldName: "currency", FieldType: fieldtype.String, DefaultValue: ptr("EUR"), State: store.FieldActive,
			Constraints: fieldtype.Constraints{Enum: []any{"EUR", "USD"}}},
		{ID: "f3", FieldName: "old", FieldType: fieldtype.String, IsRequired: true, State: store.FieldSoftDeleted},
	}

	check := e.ValidateRecordValues(fields, false, map[string]any{"amount": "12.5"}, false)
	require.True(t, check.Report.Valid(), check.Report.Summary())
	assert.Equal(t, 12.5, check.Values["f1"])
	assert.Equal(t, "EUR", check.Values["f2"])

	check = e.ValidateRecordValues(fields, false, map[string]any{"currency": "GBP", "extra": 1}, false)
	assert.Len(t, check.Report.Errors, 3, check.Report.Summary())

	check = e.ValidateRecordValues(fields, true, map[string]any{"amount": 1, "extra": 1}, false)
	require.True(t, check.Report.Valid())
	assert.Equal(t, map[string]any{"extra": 1}, check.Extra)

	check = e.ValidateRecordValues(fields, false, map[string]any{"currency": "USD"}, true)
	require.True(t, check.Report.Valid())
	assert.NotContains(t, check.Values, "f1")
}
