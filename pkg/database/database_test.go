package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations_CreatesSchemaAndIsIdempotent(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "m.db"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, db, nil))
	require.NoError(t, RunMigrations(ctx, db, nil))

	for _, table := range []string{"emails", "attachments", "extracted_email_facts", "entities",
		"entity_mentions", "edges", "email_search", "prompts", "periodic_runs",
		"sync_checkpoints", "vector_sync_history", "logs", "app_config"} {
		var count int64
		err := db.Raw("SELECT count(*) FROM sqlite_master WHERE name = ?", table).Scan(&count).Error
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, table)
	}
	assert.Equal(t, DriverSQLite, Dialect(db))
}

func TestOpenSQLite_EnforcesForeignKeys(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "fk.db"), nil)
	require.NoError(t, err)

	var enabled int
	require.NoError(t, db.Raw("PRAGMA foreign_keys").Scan(&enabled).Error)
	assert.Equal(t, 1, enabled)
}
