// Package config loads registry settings from built-in defaults, an optional
// YAML file and SCHEMAREG_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kubeflow/schema-registry/pkg/cache"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/schema"
)

// EnvPrefix prefixes every environment override, e.g. SCHEMAREG_DATABASE_DSN.
const EnvPrefix = "SCHEMAREG"

type LocksConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RetentionConfig struct {
	// Interval between sweeps. The window itself is schema.retentionDays.
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full registry configuration.
type Config struct {
	Database  store.Config      `mapstructure:"database"`
	Cache     cache.CacheConfig `mapstructure:"cache"`
	Locks     LocksConfig       `mapstructure:"locks"`
	Schema    schema.Config     `mapstructure:"schema"`
	Retention RetentionConfig   `mapstructure:"retention"`
	Log       LogConfig         `mapstructure:"log"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Database:  store.DefaultConfig(),
		Cache:     cache.DefaultCacheConfig(),
		Locks:     LocksConfig{Timeout: 10 * time.Second},
		Schema:    schema.DefaultConfig(),
		Retention: RetentionConfig{Interval: 24 * time.Hour},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.maxOpenConns", d.Database.MaxOpenConns)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.statsTTL", d.Cache.StatsTTL)
	v.SetDefault("cache.maxSize", d.Cache.MaxSize)

	v.SetDefault("locks.timeout", d.Locks.Timeout)

	v.SetDefault("schema.strictTypeMigration", d.Schema.StrictTypeMigration)
	v.SetDefault("schema.sampleSize", d.Schema.SampleSize)
	v.SetDefault("schema.largeSchemaThreshold", d.Schema.LargeSchemaThreshold)
	v.SetDefault("schema.retentionDays", d.Schema.RetentionDays)
	v.SetDefault("schema.operationTimeout", d.Schema.OperationTimeout)

	v.SetDefault("retention.interval", d.Retention.Interval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.type: unsupported %q", c.Database.Type))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: must be set"))
	}
	if c.Locks.Timeout <= 0 {
		errs = append(errs, errors.New("locks.timeout: must be positive"))
	}
	if c.Schema.SampleSize <= 0 {
		errs = append(errs, errors.New("schema.sampleSize: must be positive"))
	}
	if c.Schema.RetentionDays < 0 {
		errs = append(errs, errors.New("schema.retentionDays: must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Logger builds the structured logger described by c, writing to w.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
