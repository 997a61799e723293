// Package jobs is the canonical plugin running the background job queue.
// Other plugins register handlers against the "jobs" service during their
// own Init; the worker starts once every plugin has started.
package jobs

import (
	"context"

	"objectos/internal/jobs"
	"objectos/internal/plugin"
)

const (
	// PluginID identifies the jobs plugin.
	PluginID = "objectos.jobs"
	// ServiceName is the registry name of the *jobs.Queue service.
	ServiceName = "jobs"
)

// Plugin owns the queue worker lifecycle.
type Plugin struct {
	cfg   jobs.Config
	queue *jobs.Queue
}

// New creates the jobs plugin.
func New(cfg jobs.Config) *Plugin {
	return &Plugin{cfg: cfg}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          PluginID,
		Name:        "Jobs",
		Version:     "1.0.0",
		Description: "Priority job queue with retry and backoff",
		Author:      "ObjectOS Authors",
		License:     "Apache-2.0",
		Keywords:    []string{"jobs", "queue", "retry"},
		Permissions: []string{"jobs.enqueue", "jobs.manage"},
	}
}

func (p *Plugin) Init(ctx context.Context, pc *plugin.Context) error {
	p.queue = jobs.New(p.cfg, jobs.EmitFunc(pc.Trigger))
	return pc.RegisterService(ServiceName, p.queue)
}

// Start launches the dispatch worker. Handlers registered by later plugins
// during Init are already in place because Start runs after every Init.
func (p *Plugin) Start(ctx context.Context, pc *plugin.Context) error {
	p.queue.Start()
	pc.Infof("Job worker started with %d handlers", len(p.queue.Handlers()))
	return nil
}

func (p *Plugin) Destroy(ctx context.Context) error {
	if p.queue != nil {
		p.queue.Stop()
	}
	return nil
}

// HealthCheck surfaces queue stats; a stopped worker under a running kernel
// is degraded, not broken, since enqueue still works.
func (p *Plugin) HealthCheck(ctx context.Context) plugin.HealthResult {
	if p.queue == nil {
		return plugin.HealthResult{Status: plugin.HealthUnhealthy, Message: "queue not initialized"}
	}

	stats := p.queue.Stats()
	status := plugin.HealthHealthy
	message := ""
	if running, ok := stats["workerRunning"].(bool); ok && !running {
		status = plugin.HealthDegraded
		message = "dispatch worker not running"
	}
	return plugin.HealthResult{Status: status, Message: message, Metrics: stats}
}
