package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectos/internal/cache"
	"objectos/internal/kernel"
	"objectos/internal/plugin"
)

func TestMemoryBackendRegistersService(t *testing.T) {
	k := kernel.New()
	require.NoError(t, k.Use(New(Options{SweepInterval: time.Second})))
	require.NoError(t, k.Bootstrap(context.Background()))
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })

	svc, err := k.Registry().Get(ServiceName)
	require.NoError(t, err)
	backend, ok := svc.(cache.Cache)
	require.True(t, ok)

	require.NoError(t, backend.Set(context.Background(), "k", []byte("v"), time.Minute))
	value, found, err := backend.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)
}

func TestUnknownBackendFailsInit(t *testing.T) {
	k := kernel.New()
	require.NoError(t, k.Use(New(Options{Backend: "memcached"})))
	err := k.Bootstrap(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memcached")
}

func TestHealthProbeRoundTrips(t *testing.T) {
	p := New(Options{SweepInterval: time.Second})

	result := p.HealthCheck(context.Background())
	assert.Equal(t, plugin.HealthUnhealthy, result.Status, "unhealthy before init")

	p.cache = cache.NewMemory(time.Second)
	t.Cleanup(func() { _ = p.cache.Close() })

	result = p.HealthCheck(context.Background())
	assert.Equal(t, plugin.HealthHealthy, result.Status)
	assert.Equal(t, BackendMemory, result.Metrics["backend"])
}
