// Package versioning keeps the append-only version history of schemas:
// snapshots, diffs, change logs and rollback.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kubeflow/schema-registry/pkg/cache"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/locks"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
	"github.com/kubeflow/schema-registry/pkg/telemetry"
)

// Controller serves version history reads and performs rollbacks.
type Controller struct {
	store   *store.Store
	locker  locks.Locker
	catalog *cache.Catalog
	inst    *telemetry.Instruments
	logger  *slog.Logger
	timeout time.Duration
}

// NewController creates a Controller. catalog may be nil.
func NewController(s *store.Store, locker locks.Locker, catalog *cache.Catalog, inst *telemetry.Instruments, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{store: s, locker: locker, catalog: catalog, inst: inst, logger: logger}
}

// SetOperationTimeout bounds each rollback, lock wait included. Zero
// disables the bound.
func (c *Controller) SetOperationTimeout(d time.Duration) { c.timeout = d }

func (c *Controller) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// VersionPage is one page of a schema's snapshots, newest first.
type VersionPage struct {
	Versions      []store.VersionSnapshotRecord `json:"versions"`
	NextPageToken string                        `json:"nextPageToken,omitempty"`
	Total         int                           `json:"total"`
}

// RollbackResult reports what a rollback changed.
type RollbackResult struct {
	SchemaID     string   `json:"schemaId"`
	FromVersion  int      `json:"fromVersion"`
	ToVersion    int      `json:"toVersion"`
	NewVersion   int      `json:"newVersion"`
	PreserveData bool     `json:"preserveData"`
	Changes      []string `json:"changes"`
}

func (c *Controller) requireSchema(ctx context.Context, s *store.Store, schemaID string) (*store.SchemaRecord, error) {
	schema, err := s.GetSchema(ctx, schemaID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load schema")
	}
	if schema == nil {
		return nil, schemaerr.NotFound("schema %s not found", schemaID)
	}
	return schema, nil
}

// GetVersion returns the snapshot of a schema at version.
func (c *Controller) GetVersion(ctx context.Context, schemaID string, version int) (*store.VersionSnapshotRecord, error) {
	if _, err := c.requireSchema(ctx, c.store, schemaID); err != nil {
		return nil, err
	}
	snap, err := c.store.GetSnapshot(ctx, schemaID, version)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load snapshot")
	}
	if snap == nil {
		return nil, schemaerr.NotFound("schema %s has no version %d", schemaID, version)
	}
	return snap, nil
}

// ListVersions pages through a schema's snapshots, newest first.
func (c *Controller) ListVersions(ctx context.Context, schemaID string, pageSize int, pageToken string) (*VersionPage, error) {
	if _, err := c.requireSchema(ctx, c.store, schemaID); err != nil {
		return nil, err
	}
	snaps, next, total, err := c.store.ListSnapshots(ctx, schemaID, pageSize, pageToken)
	if err != nil {
		if errors.Is(err, store.ErrInvalidPageToken) {
			return nil, schemaerr.Validation(err.Error(), nil)
		}
		return nil, schemaerr.Wrap(err, "list snapshots")
	}
	return &VersionPage{Versions: snaps, NextPageToken: next, Total: total}, nil
}

// CompareVersions diffs the layouts of two versions of a schema.
func (c *Controller) CompareVersions(ctx context.Context, schemaID string, v1, v2 int) (*Diff, error) {
	from, err := c.GetVersion(ctx, schemaID, v1)
	if err != nil {
		return nil, err
	}
	to, err := c.GetVersion(ctx, schemaID, v2)
	if err != nil {
		return nil, err
	}
	d := Compare(from.FieldLayout, to.FieldLayout)
	d.FromVersion, d.ToVersion = v1, v2
	return &d, nil
}

// ChangeHistory returns a schema's change log, newest first.
func (c *Controller) ChangeHistory(ctx context.Context, schemaID string, limit int) ([]store.ChangeLogRecord, error) {
	if _, err := c.requireSchema(ctx, c.store, schemaID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	entries, err := c.store.ListChanges(ctx, schemaID, limit)
	if err != nil {
		return nil, schemaerr.Wrap(err, "list change log")
	}
	return entries, nil
}

// FieldHistory returns the change log entries that name fieldName, newest
// first.
func (c *Controller) FieldHistory(ctx context.Context, schemaID, fieldName string) ([]store.ChangeLogRecord, error) {
	if _, err := c.requireSchema(ctx, c.store, schemaID); err != nil {
		return nil, err
	}
	entries, err := c.store.ListChanges(ctx, schemaID, 0)
	if err != nil {
		return nil, schemaerr.Wrap(err, "list change log")
	}
	out := []store.ChangeLogRecord{}
	for _, e := range entries {
		if name, ok := e.Details["field_name"].(string); ok && name == fieldName {
			out = append(out, e)
		}
	}
	return out, nil
}

// Rollback gives a schema the field layout it had at target as a new
// version. Fields present now but absent at target are soft-deleted, or
// purged with their values when preserveData is false. Fields of the target
// are restored, recreated or reverted by id.
func (c *Controller) Rollback(ctx context.Context, schemaID string, target int, preserveData bool, actor string) (res *RollbackResult, err error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	ctx, done := c.inst.Start(ctx, "rollback", schemaID)
	defer func() { done(err) }()

	var assetTypeID string
	err = c.locker.WithLock(ctx, schemaID, func() error {
		return c.store.Transaction(ctx, func(tx *store.Store) error {
			schema, err := c.requireSchema(ctx, tx, schemaID)
			if err != nil {
				return err
			}
			assetTypeID = schema.AssetTypeID
			res, err = rollback(ctx, tx, schema, target, preserveData, actor)
			return err
		})
	})
	if err != nil {
		return nil, schemaerr.Bounded(ctx, err)
	}
	c.catalog.InvalidateSchema(schemaID)
	c.catalog.InvalidateAssetType(assetTypeID)
	if res.NewVersion != res.FromVersion {
		c.logger.Info("schema rolled back",
			"schemaID", schemaID, "operation", "rollback", "version", res.NewVersion,
			"target", target, "actor", actor, "changes", len(res.Changes))
	}
	return res, nil
}

func rollback(ctx context.Context, tx *store.Store, schema *store.SchemaRecord, target int, preserveData bool, actor string) (*RollbackResult, error) {
	res := &RollbackResult{SchemaID: schema.ID, FromVersion: schema.Version, ToVersion: target, NewVersion: schema.Version, PreserveData: preserveData, Changes: []string{}}
	if target == schema.Version {
		return res, nil
	}
	if target < 1 || target > schema.Version {
		return nil, schemaerr.Validation(fmt.Sprintf("target version %d is outside 1..%d", target, schema.Version), nil)
	}
	snap, err := tx.GetSnapshot(ctx, schema.ID, target)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load snapshot")
	}
	if snap == nil {
		return nil, schemaerr.NotFound("schema %s has no version %d", schema.ID, target)
	}
	want := snap.FieldLayout

	fields, err := tx.ListFields(ctx, schema.ID, true)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load fields")
	}
	current := store.LayoutOf(schema, fields)
	byID := make(map[string]*store.FieldRecord, len(fields))
	for i := range fields {
		byID[fields[i].ID] = &fields[i]
	}
	keep := make(map[string]bool)
	for _, d := range want.Active() {
		keep[d.ID] = true
	}

	// Removals go first so a target field can take back a name that a
	// newer field reused.
	now := time.Now().UTC()
	for i := range fields {
		f := &fields[i]
		if f.IsDeleted() || keep[f.ID] {
			continue
		}
		if preserveData {
			if err := tx.SoftDeleteField(ctx, f, now); err != nil {
				return nil, schemaerr.Wrap(err, "soft delete field")
			}
			res.Changes = append(res.Changes, fmt.Sprintf("Soft deleted field '%s'", f.FieldName))
			continue
		}
		purged, err := tx.PurgeField(ctx, f.ID)
		if err != nil {
			return nil, schemaerr.Wrap(err, "purge field")
		}
		res.Changes = append(res.Changes, fmt.Sprintf("Deleted field '%s' and %d values", f.FieldName, purged))
	}

	for _, d := range want.Active() {
		f, ok := byID[d.ID]
		if !ok {
			rec := &store.FieldRecord{
				ID:           d.ID,
				SchemaID:     schema.ID,
				FieldName:    d.Name,
				FieldType:    d.Type,
				IsRequired:   d.Required,
				DefaultValue: d.Default,
				Constraints:  d.Constraints,
				Description:  d.Description,
				OrderIndex:   d.Order,
			}
			if err := tx.CreateField(ctx, rec); err != nil {
				return nil, schemaerr.Wrap(err, "recreate field")
			}
			res.Changes = append(res.Changes, fmt.Sprintf("Recreated field '%s'", d.Name))
			continue
		}

		if f.IsDeleted() {
			if err := tx.RestoreField(ctx, f); err != nil {
				return nil, schemaerr.Wrap(err, "restore field")
			}
			res.Changes = append(res.Changes, fmt.Sprintf("Restored field '%s'", d.Name))
		}
		cur := descriptorOf(f)
		changes := FieldChanges(cur, d)
		if f.FieldName != d.Name {
			changes = append(changes, fmt.Sprintf("name: %s → %s", f.FieldName, d.Name))
		}
		if len(changes) == 0 && f.Description == d.Description && f.OrderIndex == d.Order {
			continue
		}
		if f.FieldType != d.Type {
			outcome, err := tx.MigrateFieldValues(ctx, f.ID, d.Type)
			if err != nil {
				return nil, schemaerr.Wrap(err, "migrate field values")
			}
			if len(outcome.Failures) > 0 {
				return nil, schemaerr.Validation(
					fmt.Sprintf("field %s: %d values cannot be converted back to %s", d.Name, len(outcome.Failures), d.Type),
					outcome.Failures)
			}
		}
		f.FieldName = d.Name
		f.FieldType = d.Type
		f.IsRequired = d.Required
		f.DefaultValue = d.Default
		f.Constraints = d.Constraints
		f.Description = d.Description
		f.OrderIndex = d.Order
		if err := tx.SaveField(ctx, f); err != nil {
			return nil, schemaerr.Wrap(err, "revert field")
		}
		if len(changes) > 0 {
			res.Changes = append(res.Changes, fmt.Sprintf("Reverted field '%s': %s", d.Name, strings.Join(changes, ", ")))
		}
	}

	if schema.AllowAdditionalFields != want.AllowAdditionalFields {
		if err := tx.SetAllowAdditionalFields(ctx, schema.ID, want.AllowAdditionalFields); err != nil {
			return nil, schemaerr.Wrap(err, "restore additional fields setting")
		}
		res.Changes = append(res.Changes, fmt.Sprintf("allow_additional_fields: %t → %t", schema.AllowAdditionalFields, want.AllowAdditionalFields))
	}

	diff := Compare(current, want)
	snapNew, err := RecordChange(ctx, tx, schema.ID, schema.Version, Change{
		Type:        store.ChangeRollback,
		Description: fmt.Sprintf("Rolled back from v%d to v%d", schema.Version, target),
		Details: map[string]any{
			"from_version":  schema.Version,
			"to_version":    target,
			"preserve_data": preserveData,
			"changes":       res.Changes,
			"diff":          diff.Summary,
		},
		Actor: actor,
	})
	if err != nil {
		return nil, err
	}
	res.NewVersion = snapNew.VersionNumber
	return res, nil
}

func descriptorOf(f *store.FieldRecord) store.FieldDescriptor {
	return store.FieldDescriptor{
		ID:          f.ID,
		Name:        f.FieldName,
		Type:        f.FieldType,
		Required:    f.IsRequired,
		Default:     f.DefaultValue,
		Constraints: f.Constraints,
		Description: f.Description,
		Order:       f.OrderIndex,
		Deleted:     f.IsDeleted(),
	}
}
