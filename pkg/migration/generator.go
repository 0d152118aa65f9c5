package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/schemaerr"
	"github.com/kubeflow/schema-registry/pkg/versioning"
)

// Generator renders scripts for stored schema versions.
type Generator struct {
	store    *store.Store
	versions *versioning.Controller
	now      func() time.Time
}

func NewGenerator(s *store.Store, versions *versioning.Controller) *Generator {
	return &Generator{store: s, versions: versions, now: func() time.Time { return time.Now().UTC() }}
}

func (g *Generator) header(b *strings.Builder, title string, schema *store.SchemaRecord, d Dialect) {
	b.WriteString("-- ============================================\n")
	fmt.Fprintf(b, "-- %s\n", title)
	fmt.Fprintf(b, "-- Schema: %s (%s)\n", schema.Name, schema.ID)
	fmt.Fprintf(b, "-- Dialect: %s\n", d)
	fmt.Fprintf(b, "-- Generated: %s\n", g.now().Format(time.RFC3339))
}

func (g *Generator) schema(ctx context.Context, schemaID string) (*store.SchemaRecord, error) {
	s, err := g.store.GetSchema(ctx, schemaID)
	if err != nil {
		return nil, schemaerr.Wrap(err, "load schema")
	}
	if s == nil {
		return nil, schemaerr.NotFound("schema %s not found", schemaID)
	}
	return s, nil
}

func (g *Generator) layouts(ctx context.Context, schemaID string, from, to int) (store.Layout, store.Layout, error) {
	a, err := g.versions.GetVersion(ctx, schemaID, from)
	if err != nil {
		return store.Layout{}, store.Layout{}, err
	}
	b, err := g.versions.GetVersion(ctx, schemaID, to)
	if err != nil {
		return store.Layout{}, store.Layout{}, err
	}
	return a.FieldLayout, b.FieldLayout, nil
}

// MigrationScript renders the DDL that moves a schema's table from one
// stored version to another, in either direction.
func (g *Generator) MigrationScript(ctx context.Context, schemaID string, from, to int, d Dialect) (string, error) {
	schema, err := g.schema(ctx, schemaID)
	if err != nil {
		return "", err
	}
	if from == to {
		if _, err := g.versions.GetVersion(ctx, schemaID, from); err != nil {
			return "", err
		}
		return "-- No migration needed (same version)\n", nil
	}
	a, b, err := g.layouts(ctx, schemaID, from, to)
	if err != nil {
		return "", err
	}
	body, err := MigrationSQL(a, b, d)
	if err != nil {
		return "", schemaerr.Validation(err.Error(), nil)
	}
	diff := versioning.Compare(a, b)
	direction := "upgrade"
	if to < from {
		direction = "downgrade"
	}

	var out strings.Builder
	g.header(&out, "Migration script", schema, d)
	fmt.Fprintf(&out, "-- Version: %d -> %d (%s)\n", from, to, direction)
	fmt.Fprintf(&out, "-- Fields added: %d, removed: %d, modified: %d\n",
		diff.Summary.Additions, diff.Summary.Removals, diff.Summary.Modifications)
	out.WriteString("-- ============================================\n\n")
	out.WriteString(d.begin() + "\n\n")
	out.WriteString(body)
	out.WriteString("\nCOMMIT;\n")
	return out.String(), nil
}

// RollbackScript renders the migration from the current version back to
// target.
func (g *Generator) RollbackScript(ctx context.Context, schemaID string, target int, d Dialect) (string, error) {
	schema, err := g.schema(ctx, schemaID)
	if err != nil {
		return "", err
	}
	if target < 1 || target > schema.Version {
		return "", schemaerr.Validation(fmt.Sprintf("target version %d is outside 1..%d", target, schema.Version), nil)
	}
	return g.MigrationScript(ctx, schemaID, schema.Version, target, d)
}

// DDL renders the CREATE TABLE statement for the current version.
func (g *Generator) DDL(ctx context.Context, schemaID string, d Dialect) (string, error) {
	schema, err := g.schema(ctx, schemaID)
	if err != nil {
		return "", err
	}
	fields, err := g.store.ListFields(ctx, schemaID, false)
	if err != nil {
		return "", schemaerr.Wrap(err, "load fields")
	}
	body, err := CreateTableSQL(store.LayoutOf(schema, fields), d)
	if err != nil {
		return "", schemaerr.Validation(err.Error(), nil)
	}
	var out strings.Builder
	g.header(&out, fmt.Sprintf("DDL for version %d", schema.Version), schema, d)
	out.WriteString("-- ============================================\n\n")
	out.WriteString(body)
	return out.String(), nil
}

// DataMigration renders the field_values updates that re-encode stored
// values for every type change between two versions.
func (g *Generator) DataMigration(ctx context.Context, schemaID string, from, to int, d Dialect) (string, error) {
	schema, err := g.schema(ctx, schemaID)
	if err != nil {
		return "", err
	}
	a, b, err := g.layouts(ctx, schemaID, from, to)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	g.header(&out, "Data migration", schema, d)
	fmt.Fprintf(&out, "-- Version: %d -> %d\n", from, to)
	out.WriteString("-- ============================================\n\n")
	out.WriteString(d.begin() + "\n\n")
	out.WriteString(DataMigrationSQL(a, b, d))
	out.WriteString("\nCOMMIT;\n")
	return out.String(), nil
}
