package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1000, cfg.Limits.MaxSkipPerMessage)
	assert.Equal(t, 2000, cfg.Limits.MaxStoredSkippedKeys)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := []byte(`
[limits]
max_skip_per_message = 50

[storage]
session_db_path = "custom-sessions.db"
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Limits.MaxSkipPerMessage)
	assert.Equal(t, "custom-sessions.db", cfg.Storage.SessionDBPath)
	// untouched fields keep their Default() value
	assert.Equal(t, 2000, cfg.Limits.MaxStoredSkippedKeys)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
