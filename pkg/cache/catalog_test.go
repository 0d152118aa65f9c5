package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
)

type fakeLoader struct {
	mu       sync.Mutex
	calls    map[string]int
	schemas  map[string]store.SchemaRecord
	fields   map[string][]store.FieldRecord
	records  map[string]int64
	onSchema func()
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		calls:   map[string]int{},
		schemas: map[string]store.SchemaRecord{"s1": {ID: "s1", Name: "Invoice", Version: 1, AssetTypeID: "at"}},
		fields: map[string][]store.FieldRecord{"s1": {
			{ID: "f1", SchemaID: "s1", FieldName: "amount", FieldType: fieldtype.Float, State: store.FieldActive},
			{ID: "f2", SchemaID: "s1", FieldName: "old", FieldType: fieldtype.String, State: store.FieldSoftDeleted},
		}},
		records: map[string]int64{"s1": 3},
	}
}

func (l *fakeLoader) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[name]
}

func (l *fakeLoader) hit(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[name]++
}

func (l *fakeLoader) GetSchema(_ context.Context, id string) (*store.SchemaRecord, error) {
	l.hit("GetSchema")
	if l.onSchema != nil {
		l.onSchema()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.schemas[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (l *fakeLoader) ListFields(_ context.Context, schemaID string, includeDeleted bool) ([]store.FieldRecord, error) {
	l.hit("ListFields")
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.FieldRecord
	for _, f := range l.fields[schemaID] {
		if includeDeleted || !f.IsDeleted() {
			out = append(out, f)
		}
	}
	return out, nil
}

func (l *fakeLoader) FindActiveField(_ context.Context, schemaID, name string) (*store.FieldRecord, error) {
	l.hit("FindActiveField")
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.fields[schemaID] {
		if f.FieldName == name && !f.IsDeleted() {
			return &f, nil
		}
	}
	return nil, nil
}

func (l *fakeLoader) GetAssetType(_ context.Context, id string) (*store.AssetTypeRecord, error) {
	l.hit("GetAssetType")
	return &store.AssetTypeRecord{ID: id, Name: "dataset"}, nil
}

func (l *fakeLoader) ListSchemas(_ context.Context, assetTypeID string, _ bool) ([]store.SchemaRecord, error) {
	l.hit("ListSchemas")
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.SchemaRecord
	for _, s := range l.schemas {
		if s.AssetTypeID == assetTypeID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (l *fakeLoader) CountRecords(_ context.Context, schemaID string) (int64, error) {
	l.hit("CountRecords")
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[schemaID], nil
}

func TestCatalogReadThrough(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	c := NewCatalog(loader, DefaultCacheConfig(), nil)

	for i := 0; i < 3; i++ {
		s, err := c.GetSchema(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, "Invoice", s.Name)
	}
	assert.Equal(t, 1, loader.count("GetSchema"))

	fields, err := c.ListFields(ctx, "s1", false)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	fields[0].FieldName = "mutated"

	again, err := c.ListFields(ctx, "s1", false)
	require.NoError(t, err)
	assert.Equal(t, "amount", again[0].FieldName, "callers must not be able to mutate cached entries")
	assert.Equal(t, 1, loader.count("ListFields"))

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestCatalogMissIsNotCached(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	c := NewCatalog(loader, DefaultCacheConfig(), nil)

	for i := 0; i < 2; i++ {
		s, err := c.GetSchema(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, s)
	}
	assert.Equal(t, 2, loader.count("GetSchema"))
}

func TestCatalogInvalidateSchema(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	c := NewCatalog(loader, DefaultCacheConfig(), nil)

	_, err := c.GetSchema(ctx, "s1")
	require.NoError(t, err)
	f, err := c.GetField(ctx, "s1", "amount")
	require.NoError(t, err)
	require.NotNil(t, f)

	loader.mu.Lock()
	loader.schemas["s1"] = store.SchemaRecord{ID: "s1", Name: "Invoice", Version: 2, AssetTypeID: "at"}
	loader.fields["s1"] = nil
	loader.mu.Unlock()

	c.InvalidateSchema("s1")

	s, err := c.GetSchema(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Version)
	f, err = c.GetField(ctx, "s1", "amount")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestCatalogDiscardsLoadRacingInvalidation(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	c := NewCatalog(loader, DefaultCacheConfig(), nil)

	// The commit lands while the first load is in flight.
	loader.onSchema = func() {
		loader.onSchema = nil
		c.InvalidateSchema("s1")
	}
	_, err := c.GetSchema(ctx, "s1")
	require.NoError(t, err)

	_, err = c.GetSchema(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.count("GetSchema"))
}

func TestCatalogDisabled(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	cfg := DefaultCacheConfig()
	cfg.Enabled = false
	c := NewCatalog(loader, cfg, nil)

	for i := 0; i < 2; i++ {
		_, err := c.GetSchema(ctx, "s1")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, loader.count("GetSchema"))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCatalogStatistics(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	c := NewCatalog(loader, DefaultCacheConfig(), nil)

	st, err := c.Statistics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.RecordCount)
	assert.Equal(t, 1, st.FieldCount)
	assert.Equal(t, 1, st.DeletedFieldCount)

	loader.mu.Lock()
	loader.records["s1"] = 4
	loader.mu.Unlock()

	st, err = c.Statistics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.RecordCount, "statistics are served from cache until invalidated or expired")

	c.InvalidateStatistics("s1")
	st, err = c.Statistics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.RecordCount)
}

func TestCatalogNilSafeInvalidation(t *testing.T) {
	var c *Catalog
	c.InvalidateSchema("s1")
	c.InvalidateAssetType("at")
	c.InvalidateStatistics("s1")
	c.Clear()
}
