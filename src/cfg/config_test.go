package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, EnvDev, c.Environment)
	assert.Equal(t, "./data", c.DataDir)
	assert.Equal(t, uint64(256), c.BufferPoolSize)
	assert.Equal(t, 30*time.Second, c.CheckpointInterval)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ARIESDB_ENVIRONMENT", "prod")
	t.Setenv("ARIESDB_DATA_DIR", "/var/lib/ariesdb")
	t.Setenv("ARIESDB_BUFFER_POOL_SIZE", "16")
	t.Setenv("ARIESDB_CHECKPOINT_INTERVAL", "1m")

	c, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, EnvProd, c.Environment)
	assert.Equal(t, "/var/lib/ariesdb", c.DataDir)
	assert.Equal(t, uint64(16), c.BufferPoolSize)
	assert.Equal(t, time.Minute, c.CheckpointInterval)
}

func TestLoadFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	content := "ARIESDB_DATA_DIR=/tmp/from-file\nARIESDB_BUFFER_POOL_SIZE=8\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

	// godotenv sets the variables it reads; restore them after the test
	t.Setenv("ARIESDB_DATA_DIR", "")
	t.Setenv("ARIESDB_BUFFER_POOL_SIZE", "")
	require.NoError(t, os.Unsetenv("ARIESDB_DATA_DIR"))
	require.NoError(t, os.Unsetenv("ARIESDB_BUFFER_POOL_SIZE"))

	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-file", c.DataDir)
	assert.Equal(t, uint64(8), c.BufferPoolSize)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		t.Setenv("ARIESDB_ENVIRONMENT", "staging")

		_, err := Load(t.TempDir())
		require.Error(t, err)
	})

	t.Run("pool size", func(t *testing.T) {
		t.Setenv("ARIESDB_BUFFER_POOL_SIZE", "0")

		_, err := Load(t.TempDir())
		require.Error(t, err)
	})

	t.Run("malformed interval", func(t *testing.T) {
		t.Setenv("ARIESDB_CHECKPOINT_INTERVAL", "soon")

		_, err := Load(t.TempDir())
		require.Error(t, err)
	})
}

func TestMustLoadPanics(t *testing.T) {
	t.Setenv("ARIESDB_ENVIRONMENT", "staging")

	require.Panics(t, func() { MustLoad(t.TempDir()) })
}
