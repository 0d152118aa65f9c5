// Package storetest opens isolated in-memory catalog stores for tests.
package storetest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kubeflow/schema-registry/pkg/catalog/store"
)

// New returns a migrated store backed by a private in-memory SQLite
// database that is closed when the test ends.
func New(t testing.TB) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_%s?mode=memory&cache=shared", strings.ReplaceAll(uuid.New().String(), "-", ""))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := store.New(db)
	require.NoError(t, s.AutoMigrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}
