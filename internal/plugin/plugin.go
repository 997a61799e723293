// Package plugin defines the capability contract between the kernel and the
// plugins it hosts: the Plugin interface, the per-call plugin context, the
// manifest shape, and the manifest validator.
package plugin

import (
	"context"

	"objectos/internal/hooks"
	"objectos/internal/metadata"
	"objectos/pkg/logging"
)

// Plugin is the capability interface every plugin implements. The kernel
// drives Init across all plugins in dependency order, then Start, and
// Destroy in reverse order on shutdown. Implementations that also satisfy
// HealthChecker contribute to the aggregated kernel health.
type Plugin interface {
	// Manifest returns the plugin's immutable self-description. It is read
	// before Init and must not change afterwards.
	Manifest() Manifest

	// Init wires the plugin into the kernel: register services, subscribe
	// hooks, load configuration. Services from dependencies are already
	// registered; services from plugins later in the order are not.
	Init(ctx context.Context, pc *Context) error

	// Start begins active work. Every service registered during any
	// plugin's Init is available here.
	Start(ctx context.Context, pc *Context) error

	// Destroy releases resources. Called in reverse start order; errors are
	// logged and shutdown continues.
	Destroy(ctx context.Context) error
}

// HealthChecker is optionally implemented by plugins that can report their
// own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthResult
}

// Context is the kernel surface handed to a plugin for one lifecycle call.
// It carries closures over kernel operations rather than a kernel pointer,
// and is rebuilt per call so a plugin cannot retain or mutate another
// plugin's view.
type Context struct {
	// PluginID is the identifier of the plugin this context was built for.
	PluginID string

	// RegisterService places a named service in the kernel registry.
	RegisterService func(name string, instance interface{}) error

	// GetService looks up a service registered by this or another plugin.
	GetService func(name string) (interface{}, error)

	// HasService reports service presence without failing.
	HasService func(name string) bool

	// Hook subscribes a handler to an event topic.
	Hook func(topic string, handler hooks.Handler) error

	// Trigger fires an event topic through the bus.
	Trigger func(ctx context.Context, topic string, payload map[string]interface{}) error

	// RegisterTopics announces plugin-defined topics to the known-topic set.
	RegisterTopics func(names ...string)

	// Metadata is the kernel's metadata registry.
	Metadata *metadata.Registry

	// Config is this plugin's section of the kernel configuration.
	Config map[string]interface{}
}

// Logf helpers tag every line with the owning plugin.

func (c *Context) Debugf(format string, args ...interface{}) {
	logging.Debug("Plugin:"+c.PluginID, format, args...)
}

func (c *Context) Infof(format string, args ...interface{}) {
	logging.Info("Plugin:"+c.PluginID, format, args...)
}

func (c *Context) Warnf(format string, args ...interface{}) {
	logging.Warn("Plugin:"+c.PluginID, format, args...)
}

func (c *Context) Errorf(err error, format string, args ...interface{}) {
	logging.Error("Plugin:"+c.PluginID, err, format, args...)
}

// ConfigString reads a string option from the plugin config section.
func (c *Context) ConfigString(key, fallback string) string {
	if v, ok := c.Config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// ConfigBool reads a bool option from the plugin config section.
func (c *Context) ConfigBool(key string, fallback bool) bool {
	if v, ok := c.Config[key].(bool); ok {
		return v
	}
	return fallback
}

// ConfigInt reads an int option from the plugin config section. YAML numbers
// may decode as int or float64 depending on the path they travelled.
func (c *Context) ConfigInt(key string, fallback int) int {
	switch v := c.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
