// Package registry wires the schema registry components into one
// synchronous operation set. Transport adapters sit on top of it.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kubeflow/schema-registry/pkg/cache"
	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/config"
	"github.com/kubeflow/schema-registry/pkg/locks"
	"github.com/kubeflow/schema-registry/pkg/migration"
	"github.com/kubeflow/schema-registry/pkg/retention"
	"github.com/kubeflow/schema-registry/pkg/schema"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
	"github.com/kubeflow/schema-registry/pkg/telemetry"
	"github.com/kubeflow/schema-registry/pkg/validation"
	"github.com/kubeflow/schema-registry/pkg/versioning"
)

// Registry is the process-scoped set of components sharing one store,
// catalog and lock table.
type Registry struct {
	store     *store.Store
	catalog   *cache.Catalog
	manager   *schema.Manager
	versions  *versioning.Controller
	generator *migration.Generator
	analyzer  *migration.Analyzer
	retention *retention.Worker
	logger    *slog.Logger
}

// Open connects to the configured database and builds a Registry over it.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Registry, error) {
	s, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return New(s, cfg, logger), nil
}

// New builds a Registry over an already migrated store.
func New(s *store.Store, cfg config.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	catalog := cache.NewCatalog(s, cfg.Cache, logger.With("component", "catalog"))
	locker := locks.NewKeyedMutex(cfg.Locks.Timeout)
	inst := telemetry.New()
	engine := validation.New(cfg.Schema.Validation())

	manager := schema.NewManager(s, engine, catalog, locker, inst, cfg.Schema, logger.With("component", "schema"))
	versions := versioning.NewController(s, locker, catalog, inst, logger.With("component", "versioning"))
	versions.SetOperationTimeout(cfg.Schema.OperationTimeout)
	return &Registry{
		store:     s,
		catalog:   catalog,
		manager:   manager,
		versions:  versions,
		generator: migration.NewGenerator(s, versions),
		analyzer:  migration.NewAnalyzer(s, engine, cfg.Schema.LargeSchemaThreshold),
		retention: retention.NewWorker(manager, cfg.Schema.RetentionDays, cfg.Retention.Interval, logger.With("component", "retention")),
		logger:    logger,
	}
}

// Close releases the store.
func (r *Registry) Close() error { return r.store.Close() }

// RunRetention sweeps expired soft-deleted fields until ctx is cancelled.
func (r *Registry) RunRetention(ctx context.Context) { r.retention.Run(ctx) }

// SweepExpired runs one retention sweep now.
func (r *Registry) SweepExpired(ctx context.Context) (*schema.PurgeReport, error) {
	return r.retention.Sweep(ctx)
}

func dialect(name string) (migration.Dialect, error) {
	d, err := migration.ParseDialect(name)
	if err != nil {
		return "", schemaerr.Validation(err.Error(), map[string]any{"supported": migration.Dialects()})
	}
	return d, nil
}

// Asset types.

func (r *Registry) CreateAssetType(ctx context.Context, name, description string) (*store.AssetTypeRecord, error) {
	return r.manager.CreateAssetType(ctx, name, description)
}

func (r *Registry) GetAssetType(ctx context.Context, id string) (*store.AssetTypeRecord, error) {
	return r.manager.GetAssetType(ctx, id)
}

func (r *Registry) ListAssetTypes(ctx context.Context) ([]store.AssetTypeRecord, error) {
	return r.manager.ListAssetTypes(ctx)
}

func (r *Registry) DeleteAssetType(ctx context.Context, id string) error {
	return r.manager.DeleteAssetType(ctx, id)
}

// Schemas and fields.

func (r *Registry) CreateSchema(ctx context.Context, req schema.CreateSchemaRequest) (*store.SchemaRecord, error) {
	return r.manager.CreateSchema(ctx, req)
}

func (r *Registry) GetSchema(ctx context.Context, id string) (*schema.SchemaView, error) {
	return r.manager.GetSchema(ctx, id)
}

func (r *Registry) ListSchemas(ctx context.Context, assetTypeID string, activeOnly bool) ([]store.SchemaRecord, error) {
	return r.manager.ListSchemas(ctx, assetTypeID, activeOnly)
}

func (r *Registry) ListFields(ctx context.Context, schemaID string, includeDeleted bool) ([]store.FieldRecord, error) {
	return r.manager.ListFields(ctx, schemaID, includeDeleted)
}

func (r *Registry) AddField(ctx context.Context, schemaID string, def fieldtype.Definition, actor string) (*store.FieldRecord, error) {
	return r.manager.AddField(ctx, schemaID, def, actor)
}

func (r *Registry) RemoveField(ctx context.Context, schemaID, name string, permanent bool, actor string) (bool, error) {
	return r.manager.RemoveField(ctx, schemaID, name, permanent, actor)
}

func (r *Registry) ModifyField(ctx context.Context, schemaID, name string, req schema.ModifyFieldRequest, actor string) (*schema.FieldChange, error) {
	return r.manager.ModifyField(ctx, schemaID, name, req, actor)
}

func (r *Registry) ForkSchema(ctx context.Context, sourceID, newName string, mods schema.ForkModifications, actor string) (*store.SchemaRecord, error) {
	return r.manager.ForkSchema(ctx, sourceID, newName, mods, actor)
}

// PurgeField permanently removes a soft-deleted field and its values.
func (r *Registry) PurgeField(ctx context.Context, schemaID, fieldID, actor string) (int64, error) {
	return r.manager.PurgeField(ctx, schemaID, fieldID, actor)
}

// PurgeExpiredFields purges fields soft-deleted before cutoff.
func (r *Registry) PurgeExpiredFields(ctx context.Context, cutoff time.Time, actor string) (*schema.PurgeReport, error) {
	return r.manager.PurgeExpiredFields(ctx, cutoff, actor)
}

// Records.

func (r *Registry) CreateRecord(ctx context.Context, req schema.CreateRecordRequest) (*schema.Record, error) {
	return r.manager.CreateRecord(ctx, req)
}

func (r *Registry) SetRecordValues(ctx context.Context, recordID string, values map[string]any) (*schema.Record, error) {
	return r.manager.SetRecordValues(ctx, recordID, values)
}

func (r *Registry) GetRecordValues(ctx context.Context, recordID string) (*schema.Record, error) {
	return r.manager.GetRecordValues(ctx, recordID)
}

func (r *Registry) DeleteRecord(ctx context.Context, recordID string) error {
	return r.manager.DeleteRecord(ctx, recordID)
}

// Versions.

func (r *Registry) GetVersion(ctx context.Context, schemaID string, version int) (*store.VersionSnapshotRecord, error) {
	return r.versions.GetVersion(ctx, schemaID, version)
}

func (r *Registry) ListVersions(ctx context.Context, schemaID string, pageSize int, pageToken string) (*versioning.VersionPage, error) {
	return r.versions.ListVersions(ctx, schemaID, pageSize, pageToken)
}

func (r *Registry) CompareVersions(ctx context.Context, schemaID string, v1, v2 int) (*versioning.Diff, error) {
	return r.versions.CompareVersions(ctx, schemaID, v1, v2)
}

func (r *Registry) Rollback(ctx context.Context, schemaID string, target int, preserveData bool, actor string) (*versioning.RollbackResult, error) {
	return r.versions.Rollback(ctx, schemaID, target, preserveData, actor)
}

func (r *Registry) ChangeHistory(ctx context.Context, schemaID string, limit int) ([]store.ChangeLogRecord, error) {
	return r.versions.ChangeHistory(ctx, schemaID, limit)
}

func (r *Registry) FieldHistory(ctx context.Context, schemaID, fieldName string) ([]store.ChangeLogRecord, error) {
	return r.versions.FieldHistory(ctx, schemaID, fieldName)
}

// Impact analysis.

func (r *Registry) AnalyzeFieldAddition(ctx context.Context, schemaID string, def fieldtype.Definition) (*migration.Assessment, error) {
	return r.analyzer.AnalyzeFieldAddition(ctx, schemaID, def)
}

func (r *Registry) AnalyzeFieldRemoval(ctx context.Context, schemaID, fieldName string, permanent bool) (*migration.Assessment, error) {
	return r.analyzer.AnalyzeFieldRemoval(ctx, schemaID, fieldName, permanent)
}

func (r *Registry) AnalyzeTypeChange(ctx context.Context, schemaID, fieldName string, newType fieldtype.Type) (*migration.Assessment, error) {
	return r.analyzer.AnalyzeTypeChange(ctx, schemaID, fieldName, newType)
}

// Scripts. Dialect names are parsed with migration.ParseDialect.

func (r *Registry) GenerateMigrationScript(ctx context.Context, schemaID string, from, to int, dialectName string) (string, error) {
	d, err := dialect(dialectName)
	if err != nil {
		return "", err
	}
	return r.generator.MigrationScript(ctx, schemaID, from, to, d)
}

func (r *Registry) GenerateRollbackScript(ctx context.Context, schemaID string, target int, dialectName string) (string, error) {
	d, err := dialect(dialectName)
	if err != nil {
		return "", err
	}
	return r.generator.RollbackScript(ctx, schemaID, target, d)
}

func (r *Registry) GenerateDDL(ctx context.Context, schemaID, dialectName string) (string, error) {
	d, err := dialect(dialectName)
	if err != nil {
		return "", err
	}
	return r.generator.DDL(ctx, schemaID, d)
}

func (r *Registry) GenerateDataMigration(ctx context.Context, schemaID string, from, to int, dialectName string) (string, error) {
	d, err := dialect(dialectName)
	if err != nil {
		return "", err
	}
	return r.generator.DataMigration(ctx, schemaID, from, to, d)
}

// Statistics.

func (r *Registry) SchemaStatistics(ctx context.Context, schemaID string) (*cache.Statistics, error) {
	return r.manager.SchemaStatistics(ctx, schemaID)
}

func (r *Registry) CacheStats() cache.CacheStats { return r.catalog.Stats() }

// ClearCache drops every cached entry.
func (r *Registry) ClearCache() {
	r.catalog.Clear()
	r.logger.Debug("catalog cleared")
}
