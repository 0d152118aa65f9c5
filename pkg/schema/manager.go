// Package schema is the schema manager: it creates schemas and applies
// structural changes to live schemas, each change validated against stored
// data, committed in one transaction and recorded as a new version.
package schema

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kubeflow/schema-registry/pkg/cache"
	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/locks"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
	"github.com/kubeflow/schema-registry/pkg/telemetry"
	"github.com/kubeflow/schema-registry/pkg/validation"
	"github.com/kubeflow/schema-registry/pkg/versioning"
)

// Config tunes the schema manager.
type Config struct {
	// StrictTypeMigration fails a type change when any stored value does
	// not convert. When false, unconvertible values stay in their old slot
	// and are reported.
	StrictTypeMigration bool `mapstructure:"strictTypeMigration"`

	SampleSize           int   `mapstructure:"sampleSize"`
	LargeSchemaThreshold int64 `mapstructure:"largeSchemaThreshold"`

	// RetentionDays is how long soft-deleted fields are kept before the
	// retention sweep purges them.
	RetentionDays int `mapstructure:"retentionDays"`

	// OperationTimeout bounds every mutation, including lock wait, value
	// scans and migration. Zero disables the bound.
	OperationTimeout time.Duration `mapstructure:"operationTimeout"`
}

// DefaultConfig returns the standard manager settings.
func DefaultConfig() Config {
	v := validation.DefaultConfig()
	return Config{
		StrictTypeMigration:  true,
		SampleSize:           v.SampleSize,
		LargeSchemaThreshold: v.LargeSchemaThreshold,
		RetentionDays:        30,
		OperationTimeout:     2 * time.Minute,
	}
}

// Validation returns the engine settings carried by c.
func (c Config) Validation() validation.Config {
	return validation.Config{SampleSize: c.SampleSize, LargeSchemaThreshold: c.LargeSchemaThreshold}
}

// Manager owns schema and field definitions and the records attached to
// them. All mutations of one schema serialize on that schema's lock.
type Manager struct {
	store   *store.Store
	engine  *validation.Engine
	catalog *cache.Catalog
	locker  locks.MultiLocker
	inst    *telemetry.Instruments
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager wires a Manager. A nil catalog gets a private one with default
// settings; a nil engine is built from cfg.
func NewManager(s *store.Store, engine *validation.Engine, catalog *cache.Catalog, locker locks.MultiLocker, inst *telemetry.Instruments, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = validation.New(cfg.Validation())
	}
	if catalog == nil {
		catalog = cache.NewCatalog(s, cache.DefaultCacheConfig(), logger)
	}
	return &Manager{
		store:   s,
		engine:  engine,
		catalog: catalog,
		locker:  locker,
		inst:    inst,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Catalog returns the metadata catalog the manager invalidates.
func (m *Manager) Catalog() *cache.Catalog { return m.catalog }

func (m *Manager) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.OperationTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

// applyFunc performs one mutation through tx and describes it. A nil
// change commits without advancing the version.
type applyFunc func(ctx context.Context, tx *store.Store, schema *store.SchemaRecord) (*versioning.Change, error)

// mutate runs apply under the schema lock in one transaction, records the
// new version and invalidates the catalog after commit.
func (m *Manager) mutate(ctx context.Context, op, schemaID string, apply applyFunc) (snap *store.VersionSnapshotRecord, err error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()
	ctx, done := m.inst.Start(ctx, op, schemaID)
	defer func() { done(err) }()

	var (
		assetTypeID string
		actor       string
	)
	err = m.locker.WithLock(ctx, schemaID, func() error {
		return m.store.Transaction(ctx, func(tx *store.Store) error {
			snap = nil
			schema, err := requireSchema(ctx, tx, schemaID)
			if err != nil {
				return err
			}
			assetTypeID = schema.AssetTypeID
			change, err := apply(ctx, tx, schema)
			if err != nil || change == nil {
				return err
			}
			actor = change.Actor
			snap, err = versioning.RecordChange(ctx, tx, schemaID, schema.Version, *change)
			return err
		})
	})
	if err != nil {
		err = schemaerr.Bounded(ctx, err)
		if schemaerr.Is(err, schemaerr.KindStorage) {
			m.logger.Error("schema mutation failed", "schemaID", schemaID, "operation", op, "error", err)
		}
		return nil, err
	}
	m.catalog.InvalidateSchema(schemaID)
	m.catalog.InvalidateAssetType(assetTypeID)
	if snap != nil {
		m.logger.Info("schema mutated", "schemaID", schemaID, "operation", op, "version", snap.VersionNumber, "actor", actor)
	}
	return snap, nil
}

func requireSchema(ctx context.Context, s *store.Store, id string) (*store.SchemaRecord, error) {
	schema, err := s.GetSchema(ctx, id)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load schema")
	}
	if schema == nil {
		return nil, schemaerr.NotFound("schema %s not found", id)
	}
	return schema, nil
}

func reportError(report *validation.Report) error {
	return schemaerr.Validation(report.Summary(), report.Errors)
}

// CreateSchemaRequest describes a new schema.
type CreateSchemaRequest struct {
	Name                  string                 `json:"name" yaml:"name"`
	AssetTypeID           string                 `json:"assetTypeId" yaml:"assetTypeId"`
	Fields                []fieldtype.Definition `json:"fields" yaml:"fields"`
	AllowAdditionalFields bool                   `json:"allowAdditionalFields" yaml:"allowAdditionalFields"`
	ParentSchemaID        *string                `json:"parentSchemaId,omitempty" yaml:"parentSchemaId,omitempty"`
	Actor                 string                 `json:"actor,omitempty" yaml:"actor,omitempty"`
}

// CreateSchema validates every field definition as a batch and persists the
// schema at version 1 with its initial snapshot.
func (m *Manager) CreateSchema(ctx context.Context, req CreateSchemaRequest) (_ *store.SchemaRecord, err error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, schemaerr.Validation("schema name is required", nil)
	}
	if report := m.engine.ValidateFieldDefinitions(req.Fields); !report.Valid() {
		return nil, reportError(report)
	}

	schema := &store.SchemaRecord{
		ID:                    uuid.New().String(),
		Name:                  req.Name,
		Version:               1,
		AssetTypeID:           req.AssetTypeID,
		ParentSchemaID:        req.ParentSchemaID,
		AllowAdditionalFields: req.AllowAdditionalFields,
		IsActive:              true,
		CreatedBy:             req.Actor,
	}
	ctx, cancel := m.bound(ctx)
	defer cancel()
	ctx, done := m.inst.Start(ctx, "create_schema", schema.ID)
	defer func() { done(err) }()

	err = m.locker.WithLock(ctx, schema.ID, func() error {
		return m.store.Transaction(ctx, func(tx *store.Store) error {
			if err := m.checkNewSchema(ctx, tx, schema); err != nil {
				return err
			}
			names := make([]string, 0, len(req.Fields))
			for i, def := range req.Fields {
				if err := tx.CreateField(ctx, fieldFromDefinition(schema.ID, def, i)); err != nil {
					return schemaerr.Wrap(err, "create field")
				}
				names = append(names, def.Name)
			}
			_, err := versioning.RecordInitial(ctx, tx, schema.ID, versioning.Change{
				Type:        store.ChangeCreated,
				Description: "Created schema " + schema.Name,
				Details:     map[string]any{"fields": names, "field_count": len(names)},
				Actor:       req.Actor,
			})
			return err
		})
	})
	if err != nil {
		return nil, schemaerr.Bounded(ctx, err)
	}
	m.catalog.InvalidateAssetType(schema.AssetTypeID)
	m.logger.Info("schema mutated", "schemaID", schema.ID, "operation", "create_schema", "version", 1, "actor", req.Actor)
	return requireSchema(ctx, m.store, schema.ID)
}

// checkNewSchema verifies the references and name uniqueness of a schema
// and inserts it.
func (m *Manager) checkNewSchema(ctx context.Context, tx *store.Store, schema *store.SchemaRecord) error {
	at, err := tx.GetAssetType(ctx, schema.AssetTypeID)
	if err != nil {
		return schemaerr.Wrap(err, "load asset type")
	}
	if at == nil {
		return schemaerr.NotFound("asset type %s not found", schema.AssetTypeID)
	}
	if schema.ParentSchemaID != nil {
		if _, err := requireSchema(ctx, tx, *schema.ParentSchemaID); err != nil {
			return err
		}
	}
	taken, err := tx.SchemaNameTaken(ctx, schema.AssetTypeID, schema.Name)
	if err != nil {
		return schemaerr.Wrap(err, "check schema name")
	}
	if taken {
		return schemaerr.Conflict("schema %q already exists in asset type %s", schema.Name, at.Name)
	}
	if err := tx.CreateSchema(ctx, schema); err != nil {
		if store.IsDuplicate(err) {
			return schemaerr.Conflict("schema %q already exists in asset type %s", schema.Name, at.Name)
		}
		return schemaerr.Wrap(err, "create schema")
	}
	return nil
}

func fieldFromDefinition(schemaID string, def fieldtype.Definition, order int) *store.FieldRecord {
	return &store.FieldRecord{
		SchemaID:     schemaID,
		FieldName:    def.Name,
		FieldType:    def.Type,
		IsRequired:   def.Required,
		DefaultValue: def.Default,
		Constraints:  def.Constraints,
		Description:  def.Description,
		OrderIndex:   order,
		State:        store.FieldActive,
	}
}

// ForkModifications are applied to a fork after it copies its parent.
type ForkModifications struct {
	Add    []fieldtype.Definition `json:"add,omitempty" yaml:"add,omitempty"`
	Remove []string               `json:"remove,omitempty" yaml:"remove,omitempty"`
}

// ForkSchema creates a schema in the source's asset type seeded with the
// source's active fields. The fork starts its own history at version 1;
// each modification then advances it by one version as AddField and
// RemoveField would. The source is not changed.
func (m *Manager) ForkSchema(ctx context.Context, sourceID, newName string, mods ForkModifications, actor string) (_ *store.SchemaRecord, err error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, schemaerr.Validation("schema name is required", nil)
	}
	if report := m.engine.ValidateFieldDefinitions(mods.Add); !report.Valid() {
		return nil, reportError(report)
	}
	source, err := requireSchema(ctx, m.store, sourceID)
	if err != nil {
		return nil, err
	}
	fork := &store.SchemaRecord{
		ID:                    uuid.New().String(),
		Name:                  newName,
		Version:               1,
		AssetTypeID:           source.AssetTypeID,
		ParentSchemaID:        &source.ID,
		AllowAdditionalFields: source.AllowAdditionalFields,
		IsActive:              true,
		CreatedBy:             actor,
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()
	ctx, done := m.inst.Start(ctx, "fork_schema", fork.ID)
	defer func() { done(err) }()

	err = m.locker.WithLock(ctx, fork.ID, func() error {
		return m.store.Transaction(ctx, func(tx *store.Store) error {
			parent, err := requireSchema(ctx, tx, sourceID)
			if err != nil {
				return err
			}
			fields, err := tx.ListFields(ctx, parent.ID, false)
			if err != nil {
				return schemaerr.Wrap(err, "load parent fields")
			}
			if err := m.checkNewSchema(ctx, tx, fork); err != nil {
				return err
			}
			names := make([]string, 0, len(fields))
			for i := range fields {
				f := fieldFromDefinition(fork.ID, fields[i].Definition(), fields[i].OrderIndex)
				if err := tx.CreateField(ctx, f); err != nil {
					return schemaerr.Wrap(err, "copy field")
				}
				names = append(names, f.FieldName)
			}
			if _, err := versioning.RecordInitial(ctx, tx, fork.ID, versioning.Change{
				Type:        store.ChangeForked,
				Description: "Forked from " + parent.Name,
				Details:     map[string]any{"parent_schema_id": parent.ID, "parent_version": parent.Version, "fields": names},
				Actor:       actor,
			}); err != nil {
				return err
			}

			for _, name := range mods.Remove {
				if err := m.step(ctx, tx, fork.ID, func(s *store.SchemaRecord) (*versioning.Change, error) {
					return m.removeField(ctx, tx, s, name, false, actor)
				}); err != nil {
					return err
				}
			}
			for _, def := range mods.Add {
				if err := m.step(ctx, tx, fork.ID, func(s *store.SchemaRecord) (*versioning.Change, error) {
					_, change, err := m.addField(ctx, tx, s, def, actor)
					return change, err
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, schemaerr.Bounded(ctx, err)
	}
	m.catalog.InvalidateAssetType(fork.AssetTypeID)
	m.logger.Info("schema forked", "schemaID", fork.ID, "operation", "fork_schema", "parentID", sourceID, "actor", actor)
	return requireSchema(ctx, m.store, fork.ID)
}

// step applies one change to an already locked schema inside tx and
// records it as the next version.
func (m *Manager) step(ctx context.Context, tx *store.Store, schemaID string, apply func(*store.SchemaRecord) (*versioning.Change, error)) error {
	schema, err := requireSchema(ctx, tx, schemaID)
	if err != nil {
		return err
	}
	change, err := apply(schema)
	if err != nil || change == nil {
		return err
	}
	_, err = versioning.RecordChange(ctx, tx, schemaID, schema.Version, *change)
	return err
}

// SchemaView is a schema with its active fields.
type SchemaView struct {
	store.SchemaRecord
	Fields []store.FieldRecord `json:"fields"`
}

// GetSchema returns a schema and its active fields through the catalog.
func (m *Manager) GetSchema(ctx context.Context, id string) (*SchemaView, error) {
	s, err := m.catalog.GetSchema(ctx, id)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load schema")
	}
	if s == nil {
		return nil, schemaerr.NotFound("schema %s not found", id)
	}
	fields, err := m.catalog.ListFields(ctx, id, false)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load fields")
	}
	return &SchemaView{SchemaRecord: *s, Fields: fields}, nil
}

// ListFields returns the fields of a schema in order.
func (m *Manager) ListFields(ctx context.Context, schemaID string, includeDeleted bool) ([]store.FieldRecord, error) {
	if _, err := m.GetSchema(ctx, schemaID); err != nil {
		return nil, err
	}
	fields, err := m.catalog.ListFields(ctx, schemaID, includeDeleted)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load fields")
	}
	return fields, nil
}

// GetField returns an active field by name.
func (m *Manager) GetField(ctx context.Context, schemaID, name string) (*store.FieldRecord, error) {
	f, err := m.catalog.GetField(ctx, schemaID, name)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load field")
	}
	if f == nil {
		return nil, schemaerr.NotFound("field %s not found in schema %s", name, schemaID)
	}
	return f, nil
}

// ListSchemas returns the schemas of an asset type.
func (m *Manager) ListSchemas(ctx context.Context, assetTypeID string, activeOnly bool) ([]store.SchemaRecord, error) {
	out, err := m.catalog.ListSchemas(ctx, assetTypeID, activeOnly)
	if err != nil {
		return nil, schemaerr.Wrap(err, "list schemas")
	}
	return out, nil
}

// SchemaStatistics returns cached derived counts for a schema.
func (m *Manager) SchemaStatistics(ctx context.Context, schemaID string) (*cache.Statistics, error) {
	st, err := m.catalog.Statistics(ctx, schemaID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "compute statistics")
	}
	if st == nil {
		return nil, schemaerr.NotFound("schema %s not found", schemaID)
	}
	return st, nil
}
