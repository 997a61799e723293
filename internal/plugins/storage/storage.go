// Package storage is the canonical plugin owning data at rest: the bolt
// database backing persistent stores and the reference record store behind
// the /api/v1/data surface.
package storage

import (
	"context"

	"objectos/internal/datastore"
	"objectos/internal/plugin"
	"objectos/internal/storage"
)

const (
	// PluginID identifies the storage plugin.
	PluginID = "objectos.storage"
	// ServiceName is the registry name of the *storage.DB service.
	ServiceName = "storage"
	// DatastoreServiceName is the registry name of the record store.
	DatastoreServiceName = "datastore"
)

// Options locates the bolt file.
type Options struct {
	// Path is the bolt database file. Empty skips bolt entirely, leaving
	// only the in-memory record store; plugins needing the "storage"
	// service then fail their dependency check.
	Path string
}

// Plugin opens the database during Init and closes it on Destroy.
type Plugin struct {
	opts  Options
	db    *storage.DB
	store *datastore.Store
}

// New creates the storage plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          PluginID,
		Name:        "Storage",
		Version:     "1.0.0",
		Description: "Bolt-backed persistence and the reference record store",
		Author:      "ObjectOS Authors",
		License:     "Apache-2.0",
		Keywords:    []string{"storage", "bolt", "records"},
		Permissions: []string{"data.read", "data.write"},
	}
}

func (p *Plugin) Init(ctx context.Context, pc *plugin.Context) error {
	if p.opts.Path != "" {
		db, err := storage.Open(p.opts.Path)
		if err != nil {
			return err
		}
		p.db = db
		if err := pc.RegisterService(ServiceName, db); err != nil {
			return err
		}
		pc.Infof("Bolt database open at %s", db.Path())
	}

	// The record store fires data.* hooks through the bus; permission and
	// audit behavior attaches there, not here.
	p.store = datastore.New(datastore.TriggerFunc(pc.Trigger))
	return pc.RegisterService(DatastoreServiceName, p.store)
}

func (p *Plugin) Start(ctx context.Context, pc *plugin.Context) error {
	return nil
}

func (p *Plugin) Destroy(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// HealthCheck reports the database path and object count.
func (p *Plugin) HealthCheck(ctx context.Context) plugin.HealthResult {
	metrics := map[string]interface{}{}
	if p.store != nil {
		metrics["objects"] = len(p.store.Objects())
	}
	if p.db != nil {
		metrics["path"] = p.db.Path()
	}
	return plugin.HealthResult{Status: plugin.HealthHealthy, Metrics: metrics}
}
