// Package store persists asset types, schemas, fields, records, typed field
// values, version snapshots and the change log through gorm.
package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kubeflow/schema-registry/pkg/ha"
)

// Config selects and tunes the backing database.
type Config struct {
	Type         string `mapstructure:"type"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
}

// DefaultConfig returns a local SQLite configuration.
func DefaultConfig() Config {
	return Config{Type: "sqlite", DSN: "schema-registry.db", MaxOpenConns: 10}
}

// Store is the catalog store. A Store returned to a Transaction callback is
// bound to that transaction; every method then runs inside it.
type Store struct {
	db         *gorm.DB
	inTx       bool
	newBackOff func() backoff.BackOff
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, newBackOff: defaultBackOff}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(bo, 5)
}

// Open connects to the configured database and migrates the schema while
// holding the cross-replica migration lock.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Type) {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dsn, err := normalizeMySQLDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		// SQLite allows a single writer; one connection also keeps
		// in-memory databases alive across calls.
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := New(db)
	if err := ha.NewMigrationLocker(db).WithLock(ctx, s.AutoMigrate); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog tables: %w", err)
	}
	logger.Info("catalog store ready", "dialect", db.Dialector.Name())
	return s, nil
}

// normalizeMySQLDSN makes sure DATETIME columns scan into time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	c, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	c.ParseTime = true
	if c.Loc == nil {
		c.Loc = time.UTC
	}
	return c.FormatDSN(), nil
}

// AutoMigrate creates or updates every catalog table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(allModels...)
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Dialect returns the gorm dialector name.
func (s *Store) Dialect() string { return s.db.Dialector.Name() }

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside a database transaction. Transient storage
// failures retry the whole of fn with exponential backoff, so fn must load
// everything it depends on through tx. Nested calls join the outer
// transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	op := func() error {
		err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			return fn(&Store{db: gtx, inTx: true, newBackOff: s.newBackOff})
		})
		if err == nil || IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx))
}

// IsDuplicate reports whether err is a unique-index violation.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// IsRetryable reports whether err is a transient storage failure worth
// retrying the transaction for.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		// Deadlock found / lock wait timeout exceeded.
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{"database is locked", "sqlite_busy", "sqlstate 40001", "sqlstate 40p01", "bad connection"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
