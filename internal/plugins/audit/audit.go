// Package audit is the canonical plugin recording the audit trail. It
// observes data, job and notification topics; being an observer, a broken
// audit store never aborts the operation that triggered the entry.
package audit

import (
	"context"
	"fmt"

	"objectos/internal/audit"
	"objectos/internal/hooks"
	"objectos/internal/plugin"
	pluginstorage "objectos/internal/plugins/storage"
	"objectos/internal/storage"
)

const (
	// PluginID identifies the audit plugin.
	PluginID = "objectos.audit"
	// ServiceName is the registry name of the *audit.Recorder service.
	ServiceName = "audit"
)

// Store backend names accepted by Options.Store.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

// Options selects the store backend on top of the recorder config.
type Options struct {
	Recorder audit.Config
	// Store is memory (default) or bolt. Bolt requires the storage plugin.
	Store string
	// RetentionSchedule overrides the daily 03:00 sweep cron expression.
	RetentionSchedule string
}

// Plugin owns the recorder, its store and the retention sweeper.
type Plugin struct {
	opts     Options
	recorder *audit.Recorder
	store    audit.Store
	sweeper  *audit.RetentionSweeper
}

// New creates the audit plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts}
}

func (p *Plugin) Manifest() plugin.Manifest {
	m := plugin.Manifest{
		ID:          PluginID,
		Name:        "Audit",
		Version:     "1.0.0",
		Description: "Append-only audit trail over data and job events",
		Author:      "ObjectOS Authors",
		License:     "Apache-2.0",
		Keywords:    []string{"audit", "compliance", "events"},
		Permissions: []string{"audit.read", "audit.write"},
	}
	if p.opts.Store == StoreBolt {
		m.Dependencies = map[string]string{pluginstorage.PluginID: "^1.0.0"}
	}
	return m
}

func (p *Plugin) Init(ctx context.Context, pc *plugin.Context) error {
	store, err := p.openStore(pc)
	if err != nil {
		return err
	}
	p.store = store
	p.recorder = audit.NewRecorder(p.opts.Recorder, store, audit.EmitFunc(pc.Trigger))

	// Observer subscriptions. Every topic here fires after the fact; the
	// recorder decides per config whether an entry is written.
	for _, topic := range []string{
		hooks.TopicDataCreate,
		hooks.TopicDataUpdate,
		hooks.TopicDataDelete,
		hooks.TopicJobCompleted,
		hooks.TopicJobFailed,
		hooks.TopicJobCancelled,
		hooks.TopicNotificationSent,
		hooks.TopicNotificationFailed,
	} {
		topic := topic
		if err := pc.Hook(topic, func(ctx context.Context, payload map[string]interface{}) error {
			return p.recorder.Record(ctx, topic, payload)
		}); err != nil {
			return err
		}
	}

	return pc.RegisterService(ServiceName, p.recorder)
}

func (p *Plugin) openStore(pc *plugin.Context) (audit.Store, error) {
	switch p.opts.Store {
	case "", StoreMemory:
		return audit.NewMemoryStore(p.opts.Recorder.MaxEntries), nil
	case StoreBolt:
		svc, err := pc.GetService(pluginstorage.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("bolt audit store needs the storage service: %w", err)
		}
		db, ok := svc.(*storage.DB)
		if !ok {
			return nil, fmt.Errorf("storage service has unexpected type %T", svc)
		}
		return audit.NewBoltStore(db)
	default:
		return nil, fmt.Errorf("unknown audit store %q", p.opts.Store)
	}
}

// Start launches the retention sweeper when retention is configured.
func (p *Plugin) Start(ctx context.Context, pc *plugin.Context) error {
	if !p.opts.Recorder.Enabled || p.opts.Recorder.RetentionDays <= 0 {
		return nil
	}
	p.sweeper = audit.NewRetentionSweeper(p.store, p.opts.Recorder.RetentionDays, p.opts.RetentionSchedule)
	return p.sweeper.Start()
}

func (p *Plugin) Destroy(ctx context.Context) error {
	if p.sweeper != nil {
		p.sweeper.Stop()
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// HealthCheck reports entry counts per event type and object. A store that
// cannot even count is unhealthy.
func (p *Plugin) HealthCheck(ctx context.Context) plugin.HealthResult {
	if p.recorder == nil {
		return plugin.HealthResult{Status: plugin.HealthUnhealthy, Message: "recorder not initialized"}
	}
	stats, err := p.recorder.Stats(ctx)
	if err != nil {
		return plugin.HealthResult{Status: plugin.HealthUnhealthy, Message: err.Error()}
	}
	return plugin.HealthResult{Status: plugin.HealthHealthy, Metrics: stats}
}
