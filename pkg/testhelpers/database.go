package testhelpers

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"noodle-backend/pkg/database"
)

// NewTestDB opens a migrated SQLite database in a temporary directory.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "noodle_test.db"), nil)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.RunMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
