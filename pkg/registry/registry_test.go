package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store/storetest"
	"github.com/kubeflow/schema-registry/pkg/config"
	"github.com/kubeflow/schema-registry/pkg/registry"
	"github.com/kubeflow/schema-registry/pkg/schema"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
	"github.com/kubeflow/schema-registry/pkg/validation"
)

func setup(t *testing.T, amounts ...float64) (*registry.Registry, string, []string) {
	t.Helper()
	ctx := context.Background()
	r := registry.New(storetest.New(t), config.Default(), nil)

	at, err := r.CreateAssetType(ctx, "invoices", "")
	require.NoError(t, err)
	s, err := r.CreateSchema(ctx, schema.CreateSchemaRequest{
		Name:        "Invoice",
		AssetTypeID: at.ID,
		Fields:      []fieldtype.Definition{{Name: "amount", Type: fieldtype.Float, Required: true}},
	})
	require.NoError(t, err)

	var ids []string
	for _, a := range amounts {
		rec, err := r.CreateRecord(ctx, schema.CreateRecordRequest{SchemaID: s.ID, Name: "inv", Values: map[string]any{"amount": a}})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	return r, s.ID, ids
}

func amount(t *testing.T, r *registry.Registry, recordID string) any {
	t.Helper()
	rec, err := r.GetRecordValues(context.Background(), recordID)
	require.NoError(t, err)
	return rec.Values["amount"]
}

func TestWholeAmountsConvertToInteger(t *testing.T) {
	ctx := context.Background()
	r, id, ids := setup(t, 10, 20, 30)

	change, err := r.ModifyField(ctx, id, "amount", schema.ModifyFieldRequest{NewType: ptr(fieldtype.Integer)}, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, change.Version)
	for i, want := range []int64{10, 20, 30} {
		assert.Equal(t, want, amount(t, r, ids[i]))
	}

	view, err := r.GetSchema(ctx, id)
	require.NoError(t, err)
	require.Len(t, view.Fields, 1)
	assert.Equal(t, fieldtype.Integer, view.Fields[0].FieldType)
}

func TestFractionalAmountBlocksConversion(t *testing.T) {
	ctx := context.Background()
	r, id, ids := setup(t, 10, 10.5)

	_, err := r.ModifyField(ctx, id, "amount", schema.ModifyFieldRequest{NewType: ptr(fieldtype.Integer)}, "bob")
	require.Error(t, err)
	assert.Equal(t, schemaerr.KindValidation, schemaerr.KindOf(err))
	var se *schemaerr.Error
	require.ErrorAs(t, err, &se)
	issues, ok := se.Details.([]validation.Issue)
	require.True(t, ok)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0].RecordIDs, ids[1])

	assert.Equal(t, 10.5, amount(t, r, ids[1]))
	v, err := r.GetVersion(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)
	_, err = r.GetVersion(ctx, id, 2)
	assert.Equal(t, schemaerr.KindNotFound, schemaerr.KindOf(err))
}

func TestRemoveThenRollbackRestoresValues(t *testing.T) {
	ctx := context.Background()
	r, id, ids := setup(t, 10, 20, 30)

	removed, err := r.RemoveField(ctx, id, "amount", false, "bob")
	require.NoError(t, err)
	assert.True(t, removed)

	diff, err := r.CompareVersions(ctx, id, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"amount"}, diff.RemovedFields)

	res, err := r.Rollback(ctx, id, 1, true, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, res.NewVersion)
	for i, want := range []float64{10, 20, 30} {
		assert.Equal(t, want, amount(t, r, ids[i]))
	}

	page, err := r.ListVersions(ctx, id, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	history, err := r.FieldHistory(ctx, id, "amount")
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestScripts(t *testing.T) {
	ctx := context.Background()
	r, id, _ := setup(t, 10)
	_, err := r.AddField(ctx, id, fieldtype.Definition{Name: "note", Type: fieldtype.String}, "bob")
	require.NoError(t, err)

	script, err := r.GenerateMigrationScript(ctx, id, 1, 2, "postgresql")
	require.NoError(t, err)
	assert.Contains(t, script, `ALTER TABLE "md_invoice" ADD COLUMN "note" TEXT`)

	script, err = r.GenerateRollbackScript(ctx, id, 1, "mysql")
	require.NoError(t, err)
	assert.Contains(t, script, "DROP COLUMN `note`")

	ddl, err := r.GenerateDDL(ctx, id, "sqlite")
	require.NoError(t, err)
	assert.Contains(t, ddl, `CREATE TABLE "md_invoice"`)

	data, err := r.GenerateDataMigration(ctx, id, 1, 2, "pg")
	require.NoError(t, err)
	assert.Contains(t, data, "-- No stored values need conversion")

	_, err = r.GenerateDDL(ctx, id, "oracle")
	assert.Equal(t, schemaerr.KindValidation, schemaerr.KindOf(err))
}

func TestImpactAnalysis(t *testing.T) {
	ctx := context.Background()
	r, id, _ := setup(t, 10, 20)

	add, err := r.AnalyzeFieldAddition(ctx, id, fieldtype.Definition{Name: "currency", Type: fieldtype.String, Required: true, Default: ptr("EUR")})
	require.NoError(t, err)
	assert.True(t, add.RequiresDefault)
	assert.Equal(t, int64(2), add.AffectedRecords)

	rm, err := r.AnalyzeFieldRemoval(ctx, id, "amount", true)
	require.NoError(t, err)
	assert.True(t, rm.DataLoss)
	assert.False(t, rm.Reversible)

	tc, err := r.AnalyzeTypeChange(ctx, id, "amount", fieldtype.String)
	require.NoError(t, err)
	assert.Equal(t, validation.RiskLow, tc.RiskLevel)

	// Analysis never mutates.
	stats, err := r.SchemaStatistics(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Version)
	assert.Equal(t, int64(2), stats.RecordCount)
}

func TestCacheStatsAndClear(t *testing.T) {
	ctx := context.Background()
	r, id, _ := setup(t)

	_, err := r.GetSchema(ctx, id)
	require.NoError(t, err)
	_, err = r.GetSchema(ctx, id)
	require.NoError(t, err)

	stats := r.CacheStats()
	assert.True(t, stats.Enabled)
	assert.Positive(t, stats.Entries)
	assert.Positive(t, stats.Hits)

	r.ClearCache()
	assert.Zero(t, r.CacheStats().Entries)

	view, err := r.GetSchema(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Invoice", view.Name)
}

func TestSweepExpiredWithoutCandidates(t *testing.T) {
	r, _, _ := setup(t, 10)
	report, err := r.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Fields)
}

func ptr[T any](v T) *T { return &v }
