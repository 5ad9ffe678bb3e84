package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 1024, cfg.CacheBlocks)
	assert.Equal(t, uint64(4096), cfg.SmallFileLimit)
	assert.Equal(t, int64(64<<20), cfg.WritebackHighWater)
	assert.Equal(t, 3, cfg.FlushRetries)
}

func TestLoadOverridesPartially(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegisfs.yml")
	require.NoError(t, os.WriteFile(path, []byte("flush_interval: 2s\ncache_blocks: 64\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
	assert.Equal(t, 64, cfg.CacheBlocks)
	// Untouched keys keep their defaults.
	assert.Equal(t, uint64(4096), cfg.SmallFileLimit)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("cache_blocks: -1\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
