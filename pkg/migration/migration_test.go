package migration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/catalog/store/storetest"
	"github.com/kubeflow/schema-registry/pkg/locks"
	"github.com/kubeflow/schema-registry/pkg/migration"
	"github.com/kubeflow/schema-registry/pkg/schema"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
	"github.com/kubeflow/schema-registry/pkg/validation"
	"github.com/kubeflow/schema-registry/pkg/versioning"
)

func ptr[T any](v T) *T { return &v }

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in   string
		want migration.Dialect
		err  bool
	}{
		{in: "postgres", want: migration.Postgres},
		{in: "PostgreSQL", want: migration.Postgres},
		{in: "mysql", want: migration.MySQL},
		{in: " sqlite ", want: migration.SQLite},
		{in: "oracle", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := migration.ParseDialect(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTableNameAndQuoting(t *testing.T) {
	assert.Equal(t, "md_invoice_lines", migration.TableName("Invoice Lines"))
	assert.Equal(t, "md_a_b", migration.TableName("a-b"))
	assert.Equal(t, `"we""ird"`, migration.Postgres.Quote(`we"ird`))
	assert.Equal(t, "`col`", migration.MySQL.Quote("col"))
	assert.Equal(t, "DOUBLE PRECISION", migration.Postgres.ColumnType(fieldtype.Float))
	assert.Equal(t, "JSON", migration.MySQL.ColumnType(fieldtype.Array))
	assert.Equal(t, "INTEGER", migration.SQLite.ColumnType(fieldtype.Boolean))
}

func invoiceLayout(fields ...store.FieldDescriptor) store.Layout {
	for i := range fields {
		fields[i].Order = i
		if fields[i].ID == "" {
			fields[i].ID = fields[i].Name
		}
	}
	return store.Layout{SchemaName: "Invoice", Fields: fields}
}

func TestCreateTableSQL(t *testing.T) {
	l := invoiceLayout(
		store.FieldDescriptor{Name: "amount", Type: fieldtype.Float, Required: true},
		store.FieldDescriptor{Name: "status", Type: fieldtype.String, Default: ptr("open"), Constraints: fieldtype.Constraints{Indexed: true}},
		store.FieldDescriptor{Name: "gone", Type: fieldtype.String, Deleted: true},
	)

	got, err := migration.CreateTableSQL(l, migration.Postgres)
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE "md_invoice" (
    "record_id" VARCHAR(36) NOT NULL PRIMARY KEY,
    "amount" DOUBLE PRECISION NOT NULL,
    "status" TEXT NULL DEFAULT 'open',
    "created_at" TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    "updated_at" TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX "idx_md_invoice_status" ON "md_invoice" ("status");
`, got)

	got, err = migration.CreateTableSQL(l, migration.MySQL)
	require.NoError(t, err)
	assert.Contains(t, got, "`status` TEXT NULL DEFAULT ('open')")

	flags := invoiceLayout(store.FieldDescriptor{Name: "paid", Type: fieldtype.Boolean, Default: ptr("true")})
	got, err = migration.CreateTableSQL(flags, migration.SQLite)
	require.NoError(t, err)
	assert.Contains(t, got, `"paid" INTEGER NULL DEFAULT 1`)

	paths := invoiceLayout(store.FieldDescriptor{Name: "dir", Type: fieldtype.String, Default: ptr(`C:\new 'x'`)})
	got, err = migration.CreateTableSQL(paths, migration.MySQL)
	require.NoError(t, err)
	assert.Contains(t, got, "`dir` TEXT NULL DEFAULT ('C:\\\\new ''x''')")
	got, err = migration.CreateTableSQL(paths, migration.Postgres)
	require.NoError(t, err)
	assert.Contains(t, got, `"dir" TEXT NULL DEFAULT 'C:\new ''x'''`)

	bad := invoiceLayout(store.FieldDescriptor{Name: "n", Type: fieldtype.Integer, Default: ptr("x")})
	_, err = migration.CreateTableSQL(bad, migration.Postgres)
	assert.Error(t, err)
}

func TestMigrationSQL(t *testing.T) {
	from := invoiceLayout(
		store.FieldDescriptor{Name: "amount", Type: fieldtype.Float, Required: true},
		store.FieldDescriptor{Name: "legacy", Type: fieldtype.String},
	)
	to := invoiceLayout(
		store.FieldDescriptor{Name: "amount", Type: fieldtype.Integer, Required: true},
		store.FieldDescriptor{Name: "note", Type: fieldtype.String},
	)

	t.Run("postgres", func(t *testing.T) {
		got, err := migration.MigrationSQL(from, to, migration.Postgres)
		require.NoError(t, err)
		assert.Contains(t, got, `ALTER TABLE "md_invoice" ADD COLUMN "note" TEXT NULL;`)
		assert.Contains(t, got, `ALTER TABLE "md_invoice" ALTER COLUMN "amount" TYPE BIGINT USING "amount"::BIGINT;`)
		assert.Contains(t, got, `ALTER TABLE "md_invoice" DROP COLUMN "legacy";`)
	})

	t.Run("mysql", func(t *testing.T) {
		got, err := migration.MigrationSQL(from, to, migration.MySQL)
		require.NoError(t, err)
		assert.Contains(t, got, "ALTER TABLE `md_invoice` MODIFY COLUMN `amount` BIGINT NOT NULL;")
		assert.Contains(t, got, "ALTER TABLE `md_invoice` DROP COLUMN `legacy`;")
	})

	t.Run("sqlite rebuilds on a type change", func(t *testing.T) {
		got, err := migration.MigrationSQL(from, to, migration.SQLite)
		require.NoError(t, err)
		assert.Contains(t, got, `CREATE TABLE "md_invoice__new"`)
		assert.Contains(t, got, `INSERT INTO "md_invoice__new" ("record_id", "amount", "created_at", "updated_at")`)
		assert.Contains(t, got, `ALTER TABLE "md_invoice__new" RENAME TO "md_invoice";`)
		assert.NotContains(t, got, "ALTER COLUMN")
	})

	t.Run("sqlite adds optional columns in place", func(t *testing.T) {
		grown := invoiceLayout(
			store.FieldDescriptor{Name: "amount", Type: fieldtype.Float, Required: true},
			store.FieldDescriptor{Name: "legacy", Type: fieldtype.String},
			store.FieldDescriptor{Name: "note", Type: fieldtype.String},
		)
		got, err := migration.MigrationSQL(from, grown, migration.SQLite)
		require.NoError(t, err)
		assert.Contains(t, got, `ALTER TABLE "md_invoice" ADD COLUMN "note" TEXT NULL;`)
		assert.NotContains(t, got, "__new")
	})

	t.Run("required and default", func(t *testing.T) {
		strict := invoiceLayout(
			store.FieldDescriptor{Name: "amount", Type: fieldtype.Float, Required: false, Default: ptr("0")},
			store.FieldDescriptor{Name: "legacy", Type: fieldtype.String},
		)
		got, err := migration.MigrationSQL(from, strict, migration.Postgres)
		require.NoError(t, err)
		assert.Contains(t, got, `ALTER TABLE "md_invoice" ALTER COLUMN "amount" DROP NOT NULL;`)
		assert.Contains(t, got, `ALTER TABLE "md_invoice" ALTER COLUMN "amount" SET DEFAULT 0;`)
	})

	t.Run("no changes", func(t *testing.T) {
		got, err := migration.MigrationSQL(from, from, migration.Postgres)
		require.NoError(t, err)
		assert.Equal(t, "-- No schema changes\n", got)
	})
}

func TestDataMigrationSQL(t *testing.T) {
	from := invoiceLayout(
		store.FieldDescriptor{ID: "f1", Name: "amount", Type: fieldtype.Float},
		store.FieldDescriptor{ID: "f2", Name: "meta", Type: fieldtype.JSON},
		store.FieldDescriptor{ID: "f3", Name: "paid", Type: fieldtype.String},
	)
	to := invoiceLayout(
		store.FieldDescriptor{ID: "f1", Name: "total", Type: fieldtype.Integer},
		store.FieldDescriptor{ID: "f2", Name: "meta", Type: fieldtype.Array},
		store.FieldDescriptor{ID: "f3", Name: "paid", Type: fieldtype.Boolean},
	)

	got := migration.DataMigrationSQL(from, to, migration.Postgres)
	assert.Contains(t, got, "-- Convert total: float -> integer")
	assert.Contains(t, got, "UPDATE field_values SET value_int = CAST(value_float AS BIGINT), value_float = NULL, value_type = 'integer'")
	assert.Contains(t, got, "WHERE field_id = 'f1' AND value_type = 'float' AND (value_float IS NULL OR CAST(value_float AS BIGINT) = value_float);")
	assert.Contains(t, got, "UPDATE field_values SET value_type = 'array'")
	assert.Contains(t, got, "jsonb_typeof(value_json::jsonb) = 'array'")
	assert.Contains(t, got, "WHEN LOWER(value_text) IN ('true', '1', 'yes') THEN TRUE")

	got = migration.DataMigrationSQL(from, to, migration.MySQL)
	assert.Contains(t, got, "CAST(value_float AS SIGNED)")
	assert.Contains(t, got, "JSON_TYPE(value_json) = 'ARRAY'")

	got = migration.DataMigrationSQL(from, to, migration.SQLite)
	assert.Contains(t, got, "json_type(value_json) = 'array'")
	assert.Contains(t, got, "THEN 1 WHEN")

	assert.Equal(t, "-- No stored values need conversion\n", migration.DataMigrationSQL(from, from, migration.SQLite))
}

type env struct {
	manager  *schema.Manager
	gen      *migration.Generator
	analyzer *migration.Analyzer
	schema   *store.SchemaRecord
	recs     []string
}

// newEnv creates schema Invoice with a required float amount holding 10 and
// 10.5, then adds an optional note at version 2.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s := storetest.New(t)
	locker := locks.NewKeyedMutex(time.Second)
	m := schema.NewManager(s, nil, nil, locker, nil, schema.DefaultConfig(), nil)
	ctrl := versioning.NewController(s, locker, m.Catalog(), nil, nil)

	at, err := m.CreateAssetType(ctx, "invoices", "")
	require.NoError(t, err)
	sc, err := m.CreateSchema(ctx, schema.CreateSchemaRequest{
		Name:        "Invoice",
		AssetTypeID: at.ID,
		Fields:      []fieldtype.Definition{{Name: "amount", Type: fieldtype.Float, Required: true}},
	})
	require.NoError(t, err)
	var recs []string
	for _, v := range []float64{10, 10.5} {
		rec, err := m.CreateRecord(ctx, schema.CreateRecordRequest{SchemaID: sc.ID, Values: map[string]any{"amount": v}})
		require.NoError(t, err)
		recs = append(recs, rec.ID)
	}
	_, err = m.AddField(ctx, sc.ID, fieldtype.Definition{Name: "note", Type: fieldtype.String}, "")
	require.NoError(t, err)

	return &env{
		manager:  m,
		gen:      migration.NewGenerator(s, ctrl),
		analyzer: migration.NewAnalyzer(s, validation.New(validation.DefaultConfig()), 0),
		schema:   sc,
		recs:     recs,
	}
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	script, err := e.gen.MigrationScript(ctx, e.schema.ID, 1, 2, migration.Postgres)
	require.NoError(t, err)
	assert.Contains(t, script, "-- Schema: Invoice ("+e.schema.ID+")")
	assert.Contains(t, script, "-- Version: 1 -> 2 (upgrade)")
	assert.Contains(t, script, "-- Fields added: 1, removed: 0, modified: 0")
	assert.Contains(t, script, "BEGIN;\n")
	assert.Contains(t, script, `ADD COLUMN "note" TEXT NULL;`)
	assert.Contains(t, script, "\nCOMMIT;\n")

	script, err = e.gen.RollbackScript(ctx, e.schema.ID, 1, migration.MySQL)
	require.NoError(t, err)
	assert.Contains(t, script, "-- Version: 2 -> 1 (downgrade)")
	assert.Contains(t, script, "START TRANSACTION;")
	assert.Contains(t, script, "DROP COLUMN `note`;")

	script, err = e.gen.MigrationScript(ctx, e.schema.ID, 2, 2, migration.SQLite)
	require.NoError(t, err)
	assert.Equal(t, "-- No migration needed (same version)\n", script)

	ddl, err := e.gen.DDL(ctx, e.schema.ID, migration.SQLite)
	require.NoError(t, err)
	assert.Contains(t, ddl, "-- DDL for version 2")
	assert.Contains(t, ddl, `"amount" REAL NOT NULL`)
	assert.Contains(t, ddl, `"note" TEXT NULL`)

	_, err = e.manager.ModifyField(ctx, e.schema.ID, "amount", schema.ModifyFieldRequest{NewType: ptr(fieldtype.String)}, "")
	require.NoError(t, err)
	data, err := e.gen.DataMigration(ctx, e.schema.ID, 3, 1, migration.Postgres)
	require.NoError(t, err)
	assert.Contains(t, data, "-- Convert amount: string -> float")
	assert.Contains(t, data, "CAST(value_text AS DOUBLE PRECISION)")

	t.Run("errors", func(t *testing.T) {
		_, err := e.gen.MigrationScript(ctx, e.schema.ID, 1, 9, migration.Postgres)
		assert.True(t, schemaerr.Is(err, schemaerr.KindNotFound), "got %v", err)
		_, err = e.gen.RollbackScript(ctx, e.schema.ID, 0, migration.Postgres)
		assert.True(t, schemaerr.Is(err, schemaerr.KindValidation), "got %v", err)
		_, err = e.gen.DDL(ctx, "missing", migration.Postgres)
		assert.True(t, schemaerr.Is(err, schemaerr.KindNotFound), "got %v", err)
	})
}

func TestAnalyzeFieldAddition(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.analyzer.AnalyzeFieldAddition(ctx, e.schema.ID, fieldtype.Definition{Name: "currency", Type: fieldtype.String})
	require.NoError(t, err)
	assert.Equal(t, validation.RiskLow, a.RiskLevel)
	assert.Equal(t, int64(2), a.AffectedRecords)
	assert.False(t, a.RequiresDefault)
	assert.True(t, a.Reversible)

	a, err = e.analyzer.AnalyzeFieldAddition(ctx, e.schema.ID, fieldtype.Definition{Name: "currency", Type: fieldtype.String, Required: true, Default: ptr("EUR")})
	require.NoError(t, err)
	assert.Equal(t, validation.RiskMedium, a.RiskLevel)
	assert.True(t, a.RequiresDefault)
	assert.Equal(t, 2*time.Millisecond, a.EstimatedDuration)

	a, err = e.analyzer.AnalyzeFieldAddition(ctx, e.schema.ID, fieldtype.Definition{Name: "currency", Type: fieldtype.String, Required: true})
	require.NoError(t, err)
	assert.Equal(t, validation.RiskHigh, a.RiskLevel)
	assert.NotEmpty(t, a.Issues)

	a, err = e.analyzer.AnalyzeFieldAddition(ctx, e.schema.ID, fieldtype.Definition{
		Name: "code", Type: fieldtype.String, Required: true, Default: ptr("X"),
		Constraints: fieldtype.Constraints{Unique: true},
	})
	require.NoError(t, err)
	assert.Equal(t, validation.RiskHigh, a.RiskLevel)
	require.NotEmpty(t, a.Issues)
	assert.Contains(t, a.Issues[0].Message, "unique")

	a, err = e.analyzer.AnalyzeFieldAddition(ctx, e.schema.ID, fieldtype.Definition{Name: "amount", Type: fieldtype.String})
	require.NoError(t, err)
	assert.Equal(t, validation.RiskHigh, a.RiskLevel)

	_, err = e.analyzer.AnalyzeFieldAddition(ctx, "missing", fieldtype.Definition{Name: "x", Type: fieldtype.String})
	assert.True(t, schemaerr.Is(err, schemaerr.KindNotFound), "got %v", err)
}

func TestAnalyzeFieldRemoval(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	soft, err := e.analyzer.AnalyzeFieldRemoval(ctx, e.schema.ID, "amount", false)
	require.NoError(t, err)
	assert.Equal(t, "remove_field", soft.Operation)
	assert.False(t, soft.DataLoss)
	assert.True(t, soft.Reversible)
	assert.Equal(t, validation.RiskMedium, soft.RiskLevel)
	assert.Equal(t, int64(2), soft.NonNullValues)

	hard, err := e.analyzer.AnalyzeFieldRemoval(ctx, e.schema.ID, "amount", true)
	require.NoError(t, err)
	assert.Equal(t, "purge_field", hard.Operation)
	assert.True(t, hard.DataLoss)
	assert.False(t, hard.Reversible)
	assert.Equal(t, validation.RiskHigh, hard.RiskLevel)

	empty, err := e.analyzer.AnalyzeFieldRemoval(ctx, e.schema.ID, "note", true)
	require.NoError(t, err)
	assert.False(t, empty.DataLoss)
	assert.Equal(t, validation.RiskLow, empty.RiskLevel)

	_, err = e.analyzer.AnalyzeFieldRemoval(ctx, e.schema.ID, "missing", false)
	assert.True(t, schemaerr.Is(err, schemaerr.KindNotFound), "got %v", err)
}

func TestAnalyzeTypeChange(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.analyzer.AnalyzeTypeChange(ctx, e.schema.ID, "amount", fieldtype.Integer)
	require.NoError(t, err)
	assert.Equal(t, validation.RiskHigh, a.RiskLevel)
	require.Len(t, a.Issues, 1)
	assert.Equal(t, []string{e.recs[1]}, a.Issues[0].RecordIDs)
	assert.True(t, a.RequiresMigration)

	a, err = e.analyzer.AnalyzeTypeChange(ctx, e.schema.ID, "amount", fieldtype.String)
	require.NoError(t, err)
	assert.Equal(t, validation.RiskLow, a.RiskLevel)
	assert.True(t, a.Reversible)
	assert.Equal(t, int64(2), a.AffectedValues)

	a, err = e.analyzer.AnalyzeTypeChange(ctx, e.schema.ID, "amount", fieldtype.Object)
	require.NoError(t, err)
	assert.Equal(t, validation.RiskHigh, a.RiskLevel)
	assert.False(t, a.Reversible)

	field, err := e.manager.GetField(ctx, e.schema.ID, "amount")
	require.NoError(t, err)
	assert.Equal(t, fieldtype.Float, field.FieldType)
}
