package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NOODLE_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
	assert.Contains(t, cfg.Pipeline.ExcludedFolders, "Deleted Items")
	assert.Equal(t, []string{"INBOX", "Sent"}, cfg.Sync.Folders)
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "noodle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
database:
  driver: sqlite
  dsn: /tmp/x.db
pipeline:
  workers: 5
`), 0o600))
	t.Setenv("NOODLE_CONFIG", path)
	t.Setenv("PIPELINE_WORKERS", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/tmp/x.db", cfg.Database.DSN)
	assert.Equal(t, 7, cfg.Pipeline.Workers)
}

func TestLoad_RejectsIncompleteConnector(t *testing.T) {
	t.Setenv("NOODLE_CONFIG", "")
	t.Chdir(t.TempDir())
	t.Setenv("SYNC_CONNECTOR", "imap")
	t.Setenv("IMAP_ADDR", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMAP_ADDR")
}
