// Package ha coordinates schema-registry replicas that share one catalog
// database.
package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

const migrationLockName = "schema-registry-migration"

// MigrationLocker serializes catalog table migrations across replicas.
type MigrationLocker interface {
	// WithLock runs fn while holding the migration lock and releases the
	// lock after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a lock strategy for db's dialect. PostgreSQL uses
// an advisory lock, MySQL a named lock and everything else a lock row.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	if db == nil {
		return noopLock{}
	}
	switch db.Dialector.Name() {
	case "postgres":
		return &advisoryLock{db: db, key: int64(crc32.ChecksumIEEE([]byte(migrationLockName)))}
	case "mysql":
		return &namedLock{db: db, name: migrationLockName, timeout: 5 * time.Minute}
	}
	return &rowLock{
		db:         db,
		staleAfter: 5 * time.Minute,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
	}
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

type advisoryLock struct {
	db  *gorm.DB
	key int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.key).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer l.db.Exec("SELECT pg_advisory_unlock(?)", l.key)
	return fn()
}

type namedLock struct {
	db      *gorm.DB
	name    string
	timeout time.Duration
}

func (l *namedLock) WithLock(ctx context.Context, fn func() error) error {
	var got int
	row := l.db.WithContext(ctx).Raw("SELECT GET_LOCK(?, ?)", l.name, int(l.timeout.Seconds())).Row()
	if err := row.Scan(&got); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if got != 1 {
		return fmt.Errorf("acquire migration lock: timed out after %s", l.timeout)
	}
	defer l.db.Exec("SELECT RELEASE_LOCK(?)", l.name)
	return fn()
}

// lockRow is the single row whose presence means a migration is running.
type lockRow struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (lockRow) TableName() string { return "schema_registry_migration_lock" }

// rowLock inserts a lock row and retries with backoff while another holder
// owns it. Rows older than staleAfter are treated as left by a crashed
// replica and removed.
type rowLock struct {
	db         *gorm.DB
	staleAfter time.Duration
	newBackOff func() backoff.BackOff
}

func (l *rowLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&lockRow{}); err != nil {
		return fmt.Errorf("create migration lock table: %w", err)
	}
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}

	acquire := func() error {
		db := l.db.WithContext(ctx)
		db.Where("id = ? AND locked_at < ?", migrationLockName, time.Now().Add(-l.staleAfter)).Delete(&lockRow{})
		err := db.Create(&lockRow{ID: migrationLockName, LockedAt: time.Now(), LockedBy: holder}).Error
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	if err := backoff.Retry(acquire, backoff.WithContext(l.newBackOff(), ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer l.db.Where("id = ?", migrationLockName).Delete(&lockRow{})
	return fn()
}
