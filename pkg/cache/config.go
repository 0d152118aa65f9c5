package cache

import "time"

// CacheConfig holds configuration for the metadata catalog.
type CacheConfig struct {
	// Enabled controls whether lookups are cached. When false every read
	// goes straight to the catalog store.
	Enabled bool `mapstructure:"enabled"`

	// TTL bounds how long schema, field and asset-type entries live.
	// Mutations invalidate them immediately regardless of TTL.
	TTL time.Duration `mapstructure:"ttl"`

	// StatsTTL bounds how long derived statistics are served.
	StatsTTL time.Duration `mapstructure:"statsTTL"`

	// MaxSize is the maximum number of entries per cache instance.
	MaxSize int `mapstructure:"maxSize"`
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:  true,
		TTL:      5 * time.Minute,
		StatsTTL: time.Minute,
		MaxSize:  1000,
	}
}
