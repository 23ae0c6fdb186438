// Package storagetest opens isolated, migrated in-memory databases for tests.
package storagetest

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/navid-fn/obradar/internal/storage"
)

// NewDB returns a fresh sqlite database with all migrations applied.
// It is closed when the test ends.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := storage.Open(context.Background(), storage.Config{
		Driver: storage.DriverSQLite,
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}, logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close(db) })

	if err := storage.Migrate(db, storage.DriverSQLite, logger); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db
}
