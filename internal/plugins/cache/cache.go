// Package cache is the canonical plugin exposing the shared TTL cache as
// the "cache" service. The permission engine and any other plugin needing
// cross-request state go through it.
package cache

import (
	"context"
	"fmt"
	"time"

	"objectos/internal/cache"
	"objectos/internal/plugin"
)

const (
	// PluginID identifies the cache plugin.
	PluginID = "objectos.cache"
	// ServiceName is the registry name of the cache.Cache service.
	ServiceName = "cache"
)

// Backend names accepted by Options.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Options selects and tunes the cache backend.
type Options struct {
	// Backend is memory (default) or redis.
	Backend string
	// Redis applies when Backend is redis.
	Redis cache.RedisOptions
	// SweepInterval is the memory backend's janitor cadence. Zero means
	// one minute.
	SweepInterval time.Duration
}

// Plugin owns the cache backend for the kernel's lifetime.
type Plugin struct {
	opts  Options
	cache cache.Cache
}

// New creates the cache plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          PluginID,
		Name:        "Cache",
		Version:     "1.0.0",
		Description: "Shared TTL cache with in-memory and Redis backends",
		Author:      "ObjectOS Authors",
		License:     "Apache-2.0",
		Keywords:    []string{"cache", "redis", "ttl"},
		Permissions: []string{"cache.read", "cache.write"},
	}
}

func (p *Plugin) Init(ctx context.Context, pc *plugin.Context) error {
	backend, err := p.open(ctx)
	if err != nil {
		return err
	}
	p.cache = backend
	pc.Infof("Cache backend %s ready", p.backendName())
	return pc.RegisterService(ServiceName, backend)
}

func (p *Plugin) open(ctx context.Context) (cache.Cache, error) {
	switch p.backendName() {
	case BackendMemory:
		sweep := p.opts.SweepInterval
		if sweep <= 0 {
			sweep = time.Minute
		}
		return cache.NewMemory(sweep), nil
	case BackendRedis:
		return cache.NewRedis(ctx, p.opts.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", p.opts.Backend)
	}
}

func (p *Plugin) backendName() string {
	if p.opts.Backend == "" {
		return BackendMemory
	}
	return p.opts.Backend
}

func (p *Plugin) Start(ctx context.Context, pc *plugin.Context) error {
	return nil
}

func (p *Plugin) Destroy(ctx context.Context) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Close()
}

// HealthCheck probes the backend with a write-read round trip.
func (p *Plugin) HealthCheck(ctx context.Context) plugin.HealthResult {
	if p.cache == nil {
		return plugin.HealthResult{Status: plugin.HealthUnhealthy, Message: "cache not initialized"}
	}

	key := "health:cache:probe"
	if err := p.cache.Set(ctx, key, []byte("ok"), 10*time.Second); err != nil {
		return plugin.HealthResult{Status: plugin.HealthUnhealthy, Message: err.Error()}
	}
	if _, ok, err := p.cache.Get(ctx, key); err != nil || !ok {
		return plugin.HealthResult{Status: plugin.HealthDegraded, Message: "cache probe read failed"}
	}
	return plugin.HealthResult{
		Status:  plugin.HealthHealthy,
		Metrics: map[string]interface{}{"backend": p.backendName()},
	}
}
