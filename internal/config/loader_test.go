package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0644)
	require.NoError(t, err)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	tempDir := t.TempDir()

	loaded, err := LoadConfig(tempDir)
	assert.NoError(t, err)

	defaults := GetDefaultConfig()
	assert.Equal(t, defaults.Server.Port, loaded.Server.Port)
	assert.Equal(t, defaults.Jobs.Backoff, loaded.Jobs.Backoff)
	assert.True(t, loaded.Permissions.DefaultDeny)
	assert.False(t, loaded.Auth.Enabled)
}

func TestLoadConfig_PartialFileOverridesDefaults(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, `
server:
  port: 9090
  readTimeout: 5s
jobs:
  backoff: exponential
  maxRetries: 7
logLevel: debug
`)

	loaded, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, 5*time.Second, loaded.Server.ReadTimeout)
	assert.Equal(t, "exponential", loaded.Jobs.Backoff)
	assert.Equal(t, 7, loaded.Jobs.MaxRetries)
	assert.Equal(t, "debug", loaded.LogLevel)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost", loaded.Server.Host)
	assert.Equal(t, 500*time.Millisecond, loaded.Jobs.Interval)
	assert.True(t, loaded.Audit.Enabled)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, "server: [not a mapping")

	_, err := LoadConfig(tempDir)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, `
auth:
  enabled: true
  jwtSecret: from-file
cache:
  backend: redis
  redis:
    addr: localhost:6379
`)

	t.Setenv(EnvJWTSecret, "from-env")
	t.Setenv(EnvRedisPassword, "hunter2")

	loaded, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, "from-env", loaded.Auth.JWTSecret)
	assert.Equal(t, "hunter2", loaded.Cache.Redis.Password)
}

func TestLoadConfig_ResolvesRelativePaths(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, `
permissions:
  permissionsDir: perms
storage:
  path: /var/lib/objectos/data.db
`)

	loaded, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tempDir, "perms"), loaded.Permissions.PermissionsDir)
	assert.Equal(t, filepath.Join(tempDir, "metadata"), loaded.MetadataDir)
	// Absolute paths are left alone.
	assert.Equal(t, "/var/lib/objectos/data.db", loaded.Storage.Path)
}

func TestServerConfigAddress(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 8081}
	assert.Equal(t, "0.0.0.0:8081", s.Address())
}
