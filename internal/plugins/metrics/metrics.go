// Package metrics is the canonical plugin counting kernel activity. Event
// counters attach to one subscription per canonical topic; queue depths are
// sampled on a ticker because polling a gauge beats hooking every queue
// mutation. Plugin-defined topics are not counted.
package metrics

import (
	"context"
	"time"

	"objectos/internal/hooks"
	"objectos/internal/jobs"
	"objectos/internal/metrics"
	"objectos/internal/notify"
	"objectos/internal/plugin"
	pluginjobs "objectos/internal/plugins/jobs"
	pluginnotify "objectos/internal/plugins/notifications"
)

const (
	// PluginID identifies the metrics plugin.
	PluginID = "objectos.metrics"
	// ServiceName is the registry name of the *metrics.Metrics service.
	ServiceName = "metrics"
)

// Options tunes sampling.
type Options struct {
	// Version is stamped on the build-info metric.
	Version string
	// SampleInterval is the gauge sampling cadence. Zero means 15s.
	SampleInterval time.Duration
}

// Plugin owns the collectors and the sampler goroutine.
type Plugin struct {
	opts     Options
	metrics  *metrics.Metrics
	queue    *jobs.Queue
	notifier *notify.Notifier
	plugins  func() int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates the metrics plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          PluginID,
		Name:        "Metrics",
		Version:     "1.0.0",
		Description: "Prometheus collectors and JSON snapshots of kernel activity",
		Author:      "ObjectOS Authors",
		License:     "Apache-2.0",
		Keywords:    []string{"metrics", "prometheus", "observability"},
		Dependencies: map[string]string{
			pluginjobs.PluginID:   "^1.0.0",
			pluginnotify.PluginID: "^1.0.0",
		},
		Permissions: []string{"metrics.read"},
	}
}

func (p *Plugin) Init(ctx context.Context, pc *plugin.Context) error {
	p.metrics = metrics.New(p.opts.Version)

	// One subscription per canonical topic; the closure pins the topic
	// because handlers do not learn which topic fired them.
	for _, topic := range hooks.KnownTopics() {
		topic := topic
		if err := pc.Hook(topic, func(context.Context, map[string]interface{}) error {
			p.countEvent(topic)
			return nil
		}); err != nil {
			return err
		}
	}

	if svc, err := pc.GetService(pluginjobs.ServiceName); err == nil {
		if queue, ok := svc.(*jobs.Queue); ok {
			p.queue = queue
		}
	}
	if svc, err := pc.GetService(pluginnotify.ServiceName); err == nil {
		if notifier, ok := svc.(*notify.Notifier); ok {
			p.notifier = notifier
		}
	}

	return pc.RegisterService(ServiceName, p.metrics)
}

func (p *Plugin) countEvent(topic string) {
	p.metrics.CountEvent(topic)
	switch topic {
	case hooks.TopicJobCompleted:
		p.metrics.CountJob("completed")
	case hooks.TopicJobFailed:
		p.metrics.CountJob("failed")
	case hooks.TopicJobRetried:
		p.metrics.CountJob("retried")
	case hooks.TopicJobCancelled:
		p.metrics.CountJob("cancelled")
	}
}

// Start launches the gauge sampler.
func (p *Plugin) Start(ctx context.Context, pc *plugin.Context) error {
	interval := p.opts.SampleInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.sample(interval)
	return nil
}

func (p *Plugin) sample(interval time.Duration) {
	defer close(p.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sampleOnce()
		}
	}
}

func (p *Plugin) sampleOnce() {
	if p.queue != nil {
		stats := p.queue.Stats()
		if size, ok := stats["queueSize"].(int); ok {
			p.metrics.SetQueueDepth("jobs", size)
		}
	}
	if p.notifier != nil {
		status := p.notifier.QueueStatus()
		if size, ok := status["queueSize"].(int); ok {
			p.metrics.SetQueueDepth("notifications", size)
		}
	}
	if p.plugins != nil {
		p.metrics.SetActivePlugins(p.plugins())
	}
}

// SetPluginCounter lets the application report how many plugins are active;
// the kernel is not reachable from inside a plugin by design.
func (p *Plugin) SetPluginCounter(count func() int) {
	p.plugins = count
}

func (p *Plugin) Destroy(ctx context.Context) error {
	if p.stopCh != nil {
		close(p.stopCh)
		<-p.doneCh
	}
	return nil
}

func (p *Plugin) HealthCheck(ctx context.Context) plugin.HealthResult {
	return plugin.Healthy()
}
