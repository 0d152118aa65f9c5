package cache

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kubeflow/schema-registry/pkg/catalog/store"
)

// Loader is the read side of the catalog store the metadata catalog falls
// through to on a miss.
type Loader interface {
	GetSchema(ctx context.Context, id string) (*store.SchemaRecord, error)
	ListFields(ctx context.Context, schemaID string, includeDeleted bool) ([]store.FieldRecord, error)
	FindActiveField(ctx context.Context, schemaID, name string) (*store.FieldRecord, error)
	GetAssetType(ctx context.Context, id string) (*store.AssetTypeRecord, error)
	ListSchemas(ctx context.Context, assetTypeID string, activeOnly bool) ([]store.SchemaRecord, error)
	CountRecords(ctx context.Context, schemaID string) (int64, error)
}

// Statistics are derived counts for one schema.
type Statistics struct {
	SchemaID          string    `json:"schemaId"`
	Version           int       `json:"version"`
	RecordCount       int64     `json:"recordCount"`
	FieldCount        int       `json:"fieldCount"`
	DeletedFieldCount int       `json:"deletedFieldCount"`
	ComputedAt        time.Time `json:"computedAt"`
}

// CacheStats describes the catalog's own state.
type CacheStats struct {
	Enabled      bool          `json:"enabled"`
	Entries      int           `json:"entries"`
	StatsEntries int           `json:"statsEntries"`
	Hits         int64         `json:"hits"`
	Misses       int64         `json:"misses"`
	TTL          time.Duration `json:"ttl"`
	StatsTTL     time.Duration `json:"statsTtl"`
}

const (
	schemaPrefix      = "schema:"
	fieldsPrefix      = "fields:"
	fieldPrefix       = "field:"
	assetTypePrefix   = "asset_type:"
	typeSchemasPrefix = "asset_type_schemas:"
)

// Catalog is the read-through metadata cache. Entries expire after the
// configured TTL and are dropped synchronously by the Invalidate methods,
// which the schema manager calls after every commit. Clearing it never
// changes what readers observe, only how fast they observe it.
type Catalog struct {
	loader  Loader
	enabled bool
	logger  *slog.Logger

	entries *LRUCache[any]
	stats   *LRUCache[Statistics]
	group   singleflight.Group

	// mu orders invalidation against the store-on-miss step; gen changes on
	// every invalidation so a load that raced with a commit is discarded.
	mu  sync.Mutex
	gen atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCatalog creates a catalog over loader.
func NewCatalog(loader Loader, cfg CacheConfig, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = def.StatsTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	return &Catalog{
		loader:  loader,
		enabled: cfg.Enabled,
		logger:  logger,
		entries: NewLRUCache[any](cfg.MaxSize, cfg.TTL),
		stats:   NewLRUCache[Statistics](cfg.MaxSize, cfg.StatsTTL),
	}
}

// readThrough serves key from cache or loads it once for all concurrent
// callers of the same generation.
func readThrough[T any](ctx context.Context, c *Catalog, key string, fetch func(context.Context) (T, bool, error)) (T, bool, error) {
	type result struct {
		val   T
		found bool
	}
	if c.enabled {
		if v, ok := c.entries.Get(key); ok {
			c.hits.Add(1)
			return v.(T), true, nil
		}
	}
	c.misses.Add(1)

	gen := c.gen.Load()
	v, err, _ := c.group.Do(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		val, found, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if found && c.enabled {
			c.mu.Lock()
			if c.gen.Load() == gen {
				c.entries.Set(key, val)
			}
			c.mu.Unlock()
		}
		return result{val: val, found: found}, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	r := v.(result)
	return r.val, r.found, nil
}

// GetSchema returns a schema by ID, or nil if it does not exist.
func (c *Catalog) GetSchema(ctx context.Context, id string) (*store.SchemaRecord, error) {
	s, found, err := readThrough(ctx, c, schemaPrefix+id, func(ctx context.Context) (store.SchemaRecord, bool, error) {
		s, err := c.loader.GetSchema(ctx, id)
		if err != nil || s == nil {
			return store.SchemaRecord{}, false, err
		}
		return *s, true, nil
	})
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// ListFields returns a schema's fields in order.
func (c *Catalog) ListFields(ctx context.Context, schemaID string, includeDeleted bool) ([]store.FieldRecord, error) {
	key := fieldsPrefix + schemaID + ":" + strconv.FormatBool(includeDeleted)
	fields, _, err := readThrough(ctx, c, key, func(ctx context.Context) ([]store.FieldRecord, bool, error) {
		f, err := c.loader.ListFields(ctx, schemaID, includeDeleted)
		return f, err == nil, err
	})
	return slices.Clone(fields), err
}

// GetField returns the active field name of a schema, or nil.
func (c *Catalog) GetField(ctx context.Context, schemaID, name string) (*store.FieldRecord, error) {
	f, found, err := readThrough(ctx, c, fieldPrefix+schemaID+":"+name, func(ctx context.Context) (store.FieldRecord, bool, error) {
		f, err := c.loader.FindActiveField(ctx, schemaID, name)
		if err != nil || f == nil {
			return store.FieldRecord{}, false, err
		}
		return *f, true, nil
	})
	if err != nil || !found {
		return nil, err
	}
	return &f, nil
}

// GetAssetType returns an asset type by ID, or nil.
func (c *Catalog) GetAssetType(ctx context.Context, id string) (*store.AssetTypeRecord, error) {
	at, found, err := readThrough(ctx, c, assetTypePrefix+id, func(ctx context.Context) (store.AssetTypeRecord, bool, error) {
		at, err := c.loader.GetAssetType(ctx, id)
		if err != nil || at == nil {
			return store.AssetTypeRecord{}, false, err
		}
		return *at, true, nil
	})
	if err != nil || !found {
		return nil, err
	}
	return &at, nil
}

// ListSchemas returns the schemas of an asset type.
func (c *Catalog) ListSchemas(ctx context.Context, assetTypeID string, activeOnly bool) ([]store.SchemaRecord, error) {
	key := typeSchemasPrefix + assetTypeID + ":" + strconv.FormatBool(activeOnly)
	schemas, _, err := readThrough(ctx, c, key, func(ctx context.Context) ([]store.SchemaRecord, bool, error) {
		s, err := c.loader.ListSchemas(ctx, assetTypeID, activeOnly)
		return s, err == nil, err
	})
	return slices.Clone(schemas), err
}

// Statistics returns derived counts for a schema, computed on a miss and
// then served for at most the statistics TTL.
func (c *Catalog) Statistics(ctx context.Context, schemaID string) (*Statistics, error) {
	if c.enabled {
		if st, ok := c.stats.Get(schemaID); ok {
			c.hits.Add(1)
			return &st, nil
		}
	}
	c.misses.Add(1)

	schema, err := c.loader.GetSchema(ctx, schemaID)
	if err != nil || schema == nil {
		return nil, err
	}
	fields, err := c.loader.ListFields(ctx, schemaID, true)
	if err != nil {
		return nil, err
	}
	records, err := c.loader.CountRecords(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	st := Statistics{SchemaID: schemaID, Version: schema.Version, RecordCount: records, ComputedAt: time.Now().UTC()}
	for i := range fields {
		if fields[i].IsDeleted() {
			st.DeletedFieldCount++
		} else {
			st.FieldCount++
		}
	}
	if c.enabled {
		c.stats.Set(schemaID, st)
	}
	return &st, nil
}

// InvalidateSchema drops every entry derived from schemaID.
func (c *Catalog) InvalidateSchema(schemaID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen.Add(1)
	c.entries.Invalidate(schemaPrefix + schemaID)
	c.entries.InvalidatePrefix(fieldsPrefix + schemaID + ":")
	c.entries.InvalidatePrefix(fieldPrefix + schemaID + ":")
	c.stats.Invalidate(schemaID)
	c.logger.Debug("metadata catalog invalidated schema", "schemaID", schemaID)
}

// InvalidateStatistics drops the derived counts of a schema.
func (c *Catalog) InvalidateStatistics(schemaID string) {
	if c == nil {
		return
	}
	c.stats.Invalidate(schemaID)
}

// InvalidateAssetType drops the asset type and its schema listings.
func (c *Catalog) InvalidateAssetType(assetTypeID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen.Add(1)
	c.entries.Invalidate(assetTypePrefix + assetTypeID)
	c.entries.InvalidatePrefix(typeSchemasPrefix + assetTypeID + ":")
	c.entries.InvalidatePrefix(typeSchemasPrefix + ":")
}

// Clear drops every entry.
func (c *Catalog) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen.Add(1)
	c.entries.InvalidateAll()
	c.stats.InvalidateAll()
}

// Stats reports cache occupancy and hit counts.
func (c *Catalog) Stats() CacheStats {
	return CacheStats{
		Enabled:      c.enabled,
		Entries:      c.entries.Size(),
		StatsEntries: c.stats.Size(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		TTL:          c.entries.TTL(),
		StatsTTL:     c.stats.TTL(),
	}
}
