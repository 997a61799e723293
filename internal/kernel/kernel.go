// Package kernel implements the plugin lifecycle manager: registration,
// dependency-ordered bootstrap with rollback, reverse-order shutdown, and
// aggregated health. The kernel owns the service registry, the hook bus, and
// the metadata registry; plugins reach them only through per-call contexts.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"objectos/internal/apierr"
	"objectos/internal/dependency"
	"objectos/internal/hooks"
	"objectos/internal/metadata"
	"objectos/internal/plugin"
	"objectos/internal/registry"
	"objectos/pkg/logging"
)

// State is the kernel's lifecycle position.
type State int

const (
	StateCreated State = iota
	StateBootstrapping
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBootstrapping:
		return "bootstrapping"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PluginState tracks one plugin through its lifecycle. A destroyed plugin
// never re-enters an earlier state.
type PluginState string

const (
	PluginRegistered  PluginState = "registered"
	PluginInitialized PluginState = "initialized"
	PluginStarted     PluginState = "started"
	PluginDestroyed   PluginState = "destroyed"
	PluginFailed      PluginState = "failed"
)

type entry struct {
	plugin   plugin.Plugin
	manifest plugin.Manifest
	version  *semver.Version
	state    PluginState
	lastErr  error

	// services registered by this plugin during init, removed again when the
	// plugin is destroyed so the registry returns to its prior state.
	services []string
}

// Kernel composes plugins into a running system.
type Kernel struct {
	mu sync.RWMutex

	state     State
	version   string
	bootedAt  time.Time
	plugins   map[string]*entry
	bootOrder []string
	started   []string

	registry  *registry.Registry
	bus       *hooks.Bus
	metadata  *metadata.Registry
	validator *plugin.Validator

	// pluginConfig holds each plugin's config section, keyed by plugin id.
	pluginConfig map[string]map[string]interface{}
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithVersion stamps the kernel version reported by Health.
func WithVersion(version string) Option {
	return func(k *Kernel) { k.version = version }
}

// WithPluginConfig supplies per-plugin configuration sections.
func WithPluginConfig(cfg map[string]map[string]interface{}) Option {
	return func(k *Kernel) { k.pluginConfig = cfg }
}

// New creates a kernel with an empty registry and a bus seeded with the
// canonical topics.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		state:        StateCreated,
		version:      "dev",
		plugins:      make(map[string]*entry),
		registry:     registry.New(),
		bus:          hooks.New(hooks.KnownTopics()...),
		metadata:     metadata.NewRegistry(),
		validator:    plugin.NewValidator(),
		pluginConfig: make(map[string]map[string]interface{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Registry exposes the service registry to the hosting process (HTTP
// adapter, CLI wiring). Plugins use their context instead.
func (k *Kernel) Registry() *registry.Registry { return k.registry }

// Bus exposes the hook bus to the hosting process.
func (k *Kernel) Bus() *hooks.Bus { return k.bus }

// Metadata exposes the metadata registry to the hosting process.
func (k *Kernel) Metadata() *metadata.Registry { return k.metadata }

// State returns the kernel's lifecycle state.
func (k *Kernel) State() State {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Version returns the kernel version string.
func (k *Kernel) Version() string { return k.version }

// Use registers a plugin for the next bootstrap. The manifest is validated
// immediately, with every problem collected, so a rejected plugin never
// reaches Init. Registration after bootstrap is an error.
func (k *Kernel) Use(p plugin.Plugin) error {
	if p == nil {
		return fmt.Errorf("cannot register nil plugin")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != StateCreated {
		return fmt.Errorf("cannot register plugins while kernel is %s", k.state)
	}

	manifest := p.Manifest()
	if err := k.validator.Validate(manifest); err != nil {
		return fmt.Errorf("plugin manifest rejected: %w", err)
	}

	if _, exists := k.plugins[manifest.ID]; exists {
		return apierr.NewConflictError("plugin", manifest.ID)
	}

	version, err := semver.StrictNewVersion(manifest.Version)
	if err != nil {
		// The validator already checks this; guard anyway.
		return fmt.Errorf("plugin %s has invalid version %q: %w", manifest.ID, manifest.Version, err)
	}

	k.plugins[manifest.ID] = &entry{
		plugin:   p,
		manifest: manifest,
		version:  version,
		state:    PluginRegistered,
	}
	logging.Debug("Kernel", "Registered plugin %s@%s", manifest.ID, manifest.Version)
	return nil
}

// Bootstrap validates the dependency graph, then drives init across all
// plugins in resolved order and start across all plugins in the same order.
// A failure in either phase destroys the already-initialized plugins in
// reverse order and surfaces the original error.
func (k *Kernel) Bootstrap(ctx context.Context) error {
	k.mu.Lock()
	if k.state != StateCreated {
		state := k.state
		k.mu.Unlock()
		return fmt.Errorf("kernel already %s", state)
	}
	k.state = StateBootstrapping
	k.mu.Unlock()

	order, err := k.resolveOrder()
	if err != nil {
		k.setState(StateStopped)
		return err
	}
	k.mu.Lock()
	k.bootOrder = order
	k.mu.Unlock()

	logging.Info("Kernel", "Bootstrapping %d plugins: %v", len(order), order)

	// Init phase. Each plugin's context is built fresh for the call.
	var initialized []string
	for _, id := range order {
		e := k.plugins[id]
		if err := e.plugin.Init(ctx, k.buildContext(id)); err != nil {
			lifecycleErr := apierr.NewLifecycleError(id, "init", err)
			e.state = PluginFailed
			e.lastErr = lifecycleErr
			logging.Error("Kernel", lifecycleErr, "Init failed, rolling back %d plugins", len(initialized))
			k.removeServices(id)
			k.rollback(ctx, initialized)
			k.setState(StateStopped)
			return lifecycleErr
		}
		e.state = PluginInitialized
		initialized = append(initialized, id)
		k.trigger(ctx, hooks.TopicPluginInitialized, map[string]interface{}{
			"pluginId": id, "version": e.manifest.Version,
		})
	}

	// Start phase. Every service registered during init is now visible.
	for _, id := range order {
		e := k.plugins[id]
		if err := e.plugin.Start(ctx, k.buildContext(id)); err != nil {
			lifecycleErr := apierr.NewLifecycleError(id, "start", err)
			e.state = PluginFailed
			e.lastErr = lifecycleErr
			logging.Error("Kernel", lifecycleErr, "Start failed, rolling back %d plugins", len(initialized))
			k.rollback(ctx, initialized)
			k.setState(StateStopped)
			return lifecycleErr
		}
		e.state = PluginStarted
		k.mu.Lock()
		k.started = append(k.started, id)
		k.mu.Unlock()
		k.trigger(ctx, hooks.TopicPluginStarted, map[string]interface{}{
			"pluginId": id, "version": e.manifest.Version,
		})
	}

	k.mu.Lock()
	k.state = StateRunning
	k.bootedAt = time.Now()
	k.mu.Unlock()

	k.trigger(ctx, hooks.TopicKernelBootstrapped, map[string]interface{}{
		"plugins": len(order),
	})
	logging.Info("Kernel", "Bootstrap complete, kernel running")
	return nil
}

// Shutdown destroys started plugins in reverse start order. Destroy errors
// are logged and shutdown proceeds; the joined errors are returned at the
// end. Safe to call once after a successful bootstrap.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	switch k.state {
	case StateStopped:
		k.mu.Unlock()
		return nil
	case StateRunning:
		// proceed
	default:
		state := k.state
		k.mu.Unlock()
		return fmt.Errorf("cannot shut down kernel while %s", state)
	}
	k.state = StateShuttingDown
	started := make([]string, len(k.started))
	copy(started, k.started)
	k.mu.Unlock()

	k.trigger(ctx, hooks.TopicKernelShutdown, map[string]interface{}{
		"plugins": len(started),
	})

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		if err := k.destroyPlugin(ctx, started[i]); err != nil {
			errs = append(errs, err)
		}
	}

	k.setState(StateStopped)
	logging.Info("Kernel", "Shutdown complete")
	return errors.Join(errs...)
}

// rollback destroys the named plugins in reverse order, best-effort.
func (k *Kernel) rollback(ctx context.Context, initialized []string) {
	for i := len(initialized) - 1; i >= 0; i-- {
		if err := k.destroyPlugin(ctx, initialized[i]); err != nil {
			logging.Error("Kernel", err, "Rollback destroy for %s failed", initialized[i])
		}
	}
}

// destroyPlugin awaits the plugin's Destroy and removes the services it
// registered, restoring the registry to its pre-init state.
func (k *Kernel) destroyPlugin(ctx context.Context, id string) error {
	e := k.plugins[id]
	if e == nil || e.state == PluginDestroyed {
		return nil
	}

	err := e.plugin.Destroy(ctx)
	e.state = PluginDestroyed
	if err != nil {
		e.lastErr = apierr.NewLifecycleError(id, "destroy", err)
		logging.Error("Kernel", err, "Destroy of plugin %s failed, continuing", id)
	}

	k.removeServices(id)
	k.trigger(ctx, hooks.TopicPluginDestroyed, map[string]interface{}{"pluginId": id})

	if err != nil {
		return apierr.NewLifecycleError(id, "destroy", err)
	}
	return nil
}

func (k *Kernel) removeServices(id string) {
	e := k.plugins[id]
	for _, name := range e.services {
		if err := k.registry.Remove(name); err != nil && !apierr.IsNotFound(err) {
			logging.Warn("Kernel", "Could not remove service %s of plugin %s: %v", name, id, err)
		}
	}
	e.services = nil
}

// resolveOrder builds the dependency graph from the registered manifests and
// topologically sorts it.
func (k *Kernel) resolveOrder() ([]string, error) {
	k.mu.RLock()
	graph := dependency.New()
	for id, e := range k.plugins {
		requires := make(map[dependency.NodeID]string, len(e.manifest.Dependencies))
		for dep, rng := range e.manifest.Dependencies {
			requires[dependency.NodeID(dep)] = rng
		}
		graph.AddNode(dependency.Node{
			ID:       dependency.NodeID(id),
			Version:  e.version,
			Requires: requires,
		})
	}
	k.mu.RUnlock()

	resolved, err := graph.Resolve()
	if err != nil {
		return nil, fmt.Errorf("dependency resolution failed: %w", err)
	}

	order := make([]string, len(resolved))
	for i, id := range resolved {
		order[i] = string(id)
	}
	return order, nil
}

// buildContext constructs the closure-based plugin context for one lifecycle
// call. RegisterService records the name against the plugin for rollback.
func (k *Kernel) buildContext(id string) *plugin.Context {
	cfg := make(map[string]interface{}, len(k.pluginConfig[id]))
	for key, value := range k.pluginConfig[id] {
		cfg[key] = value
	}

	return &plugin.Context{
		PluginID: id,
		RegisterService: func(name string, instance interface{}) error {
			if err := k.registry.Register(name, instance); err != nil {
				return err
			}
			k.mu.Lock()
			k.plugins[id].services = append(k.plugins[id].services, name)
			k.mu.Unlock()
			return nil
		},
		GetService: k.registry.Get,
		HasService: k.registry.Has,
		Hook:       k.bus.Hook,
		Trigger:    k.bus.Trigger,
		RegisterTopics: func(names ...string) {
			k.bus.RegisterTopics(names...)
		},
		Metadata: k.metadata,
		Config:   cfg,
	}
}

func (k *Kernel) setState(s State) {
	k.mu.Lock()
	k.state = s
	k.mu.Unlock()
}

func (k *Kernel) trigger(ctx context.Context, topic string, payload map[string]interface{}) {
	if err := k.bus.Trigger(ctx, topic, payload); err != nil {
		logging.Debug("Kernel", "Observer errors on %s: %v", topic, err)
	}
}

// PluginInfo describes one registered plugin for diagnostics.
type PluginInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

// Plugins lists the registered plugins in boot order when resolved, or
// registration-map order before bootstrap.
func (k *Kernel) Plugins() []PluginInfo {
	k.mu.RLock()
	defer k.mu.RUnlock()

	ids := k.bootOrder
	if len(ids) == 0 {
		ids = make([]string, 0, len(k.plugins))
		for id := range k.plugins {
			ids = append(ids, id)
		}
	}

	infos := make([]PluginInfo, 0, len(ids))
	for _, id := range ids {
		e, ok := k.plugins[id]
		if !ok {
			continue
		}
		info := PluginInfo{
			ID:      id,
			Name:    e.manifest.Name,
			Version: e.manifest.Version,
			State:   string(e.state),
		}
		if e.lastErr != nil {
			info.Error = e.lastErr.Error()
		}
		infos = append(infos, info)
	}
	return infos
}
