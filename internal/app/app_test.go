package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectos/internal/config"
	"objectos/internal/kernel"
	"objectos/internal/metadata"
)

// testConfig is the default configuration rooted in a throwaway directory so
// bolt files and loaders never touch the real home directory.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "objectos.db")
	cfg.Permissions.PermissionsDir = ""
	cfg.MetadataDir = ""
	return cfg
}

func TestBuildKernelBootsEveryCanonicalPlugin(t *testing.T) {
	k, metricsPlugin, err := buildKernel(testConfig(t), "test")
	require.NoError(t, err)
	require.NotNil(t, metricsPlugin)

	require.NoError(t, k.Bootstrap(context.Background()))
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })

	infos := k.Plugins()
	require.Len(t, infos, 9)
	for _, info := range infos {
		assert.Equal(t, string(kernel.PluginStarted), info.State, "plugin %s", info.ID)
	}

	deps, err := serverDependencies(k)
	require.NoError(t, err)
	assert.NotNil(t, deps.Store)
	assert.NotNil(t, deps.Permissions)
	assert.NotNil(t, deps.Audit)
	assert.NotNil(t, deps.Jobs)
	assert.NotNil(t, deps.Notifier)
	assert.NotNil(t, deps.Metrics)
	assert.NotNil(t, deps.Auth)
}

func TestWorkflowsDirSitsNextToMetadata(t *testing.T) {
	cfg := config.Config{MetadataDir: "/etc/objectos/metadata"}
	assert.Equal(t, "/etc/objectos/workflows", workflowsDir(cfg))

	assert.Empty(t, workflowsDir(config.Config{}))
}

func TestNewLoadsConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	configYAML := `
server:
  port: 9191
storage:
  path: data/objectos.db
logLevel: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644))

	a, err := New(Options{ConfigPath: dir, Silent: true, Version: "test"})
	require.NoError(t, err)

	assert.Equal(t, 9191, a.Config().Server.Port)
	assert.Equal(t, filepath.Join(dir, "data", "objectos.db"), a.Config().Storage.Path,
		"relative storage paths resolve against the config directory")
	require.NotNil(t, a.Kernel())
}

func TestLoadMetadataRegistersDefinitions(t *testing.T) {
	dir := t.TempDir()
	metadataDir := filepath.Join(dir, "metadata")
	require.NoError(t, os.MkdirAll(metadataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(metadataDir, "crm.yaml"), []byte(`
package: crm
objects:
  - name: account
    label: Account
    fields:
      - name: name
        type: string
`), 0o644))

	a, err := New(Options{ConfigPath: dir, Silent: true, Version: "test"})
	require.NoError(t, err)
	require.NoError(t, a.loadMetadata())

	assert.True(t, a.Kernel().Metadata().Has(metadata.TypeObject, "account"))
	assert.True(t, a.Kernel().Metadata().Has(metadata.TypeField, "account.name"))
}

func TestLoadMetadataSkipsMissingDirectory(t *testing.T) {
	a, err := New(Options{ConfigPath: t.TempDir(), Silent: true, Version: "test"})
	require.NoError(t, err)
	require.NoError(t, a.loadMetadata())
	assert.Empty(t, a.Kernel().Metadata().List(metadata.TypeObject))
}
