package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvUsesDefaults(t *testing.T) {
	// when
	conf, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	// then
	require.NoError(t, err)
	assert.Equal(t, "zenpath", conf.Name)
	assert.Equal(t, ":8080", conf.HttpServer.Addr)
	assert.Equal(t, StorageBackendInMemory, conf.Storage.Backend)
	assert.Equal(t, time.Second, conf.Storage.BoltTimeout)
	assert.Equal(t, 1000, conf.Storage.Cache.StateCacheSize)
	assert.Equal(t, 10*time.Minute, conf.Storage.Cache.StateCacheTTL)
	assert.Equal(t, 8, conf.Script.MaxVmPoolSize)
	assert.False(t, conf.Tracing.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	// setup
	fileName := filepath.Join(t.TempDir(), "conf.yaml")
	err := os.WriteFile(fileName, []byte(`
name: orders
httpServer:
  addr: ":9090"
storage:
  backend: bolt
  boltPath: /var/lib/zenpath/orders.db
  cache:
    stateCacheSize: 10
tracing:
  enabled: true
  transferHeaders:
    - X-Correlation-Id
`), 0o600)
	require.NoError(t, err)

	// when
	conf, err := LoadConfig(fileName)

	// then
	require.NoError(t, err)
	assert.Equal(t, "orders", conf.Name)
	assert.Equal(t, ":9090", conf.HttpServer.Addr)
	assert.Equal(t, StorageBackendBolt, conf.Storage.Backend)
	assert.Equal(t, "/var/lib/zenpath/orders.db", conf.Storage.BoltPath)
	assert.Equal(t, 10, conf.Storage.Cache.StateCacheSize)
	assert.Equal(t, 200, conf.Storage.Cache.DefinitionCacheSize)
	assert.True(t, conf.Tracing.Enabled)
	assert.Equal(t, []string{"X-Correlation-Id"}, conf.Tracing.TransferHeaders)
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	// setup
	t.Setenv("STORAGE_BACKEND", "rqlite")

	// when
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	// then
	assert.ErrorContains(t, err, "rqlite")
}

func TestFileNameHonoursEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/etc/zenpath/conf.yaml")
	assert.Equal(t, "/etc/zenpath/conf.yaml", FileName())
}
