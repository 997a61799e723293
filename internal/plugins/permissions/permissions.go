// Package permissions is the canonical plugin enforcing access control on
// the data surface. It loads permission sets from disk, registers the
// engine as the "permissions" service, and attaches gate handlers to the
// data.before* topics so every mutation is checked before it happens.
//
// Payloads without a caller context (permission.PayloadKey) are system
// calls from other plugins and pass through unchecked.
package permissions

import (
	"context"
	"fmt"
	"os"
	"time"

	"objectos/internal/apierr"
	"objectos/internal/cache"
	"objectos/internal/hooks"
	"objectos/internal/permission"
	"objectos/internal/plugin"
	plugincache "objectos/internal/plugins/cache"
)

const (
	// PluginID identifies the permissions plugin.
	PluginID = "objectos.permissions"
	// ServiceName is the registry name of the *permission.Engine service.
	ServiceName = "permissions"
)

// Options extends the engine config with hot-reload and cache wiring.
type Options struct {
	Engine permission.Config
	// Watch reloads permission sets when files under PermissionsDir
	// change.
	Watch bool
	// CacheBackend places permission results in an engine-private memory
	// cache (default) or the shared cache service ("redis"), whose backend
	// the cache plugin configures.
	CacheBackend string
}

// Plugin owns the engine, the optional file watcher and the gate handlers.
type Plugin struct {
	opts    Options
	engine  *permission.Engine
	watcher *permission.Watcher
	owned   cache.Cache
}

// New creates the permissions plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts}
}

func (p *Plugin) Manifest() plugin.Manifest {
	m := plugin.Manifest{
		ID:          PluginID,
		Name:        "Permissions",
		Version:     "1.0.0",
		Description: "Object, field and record level access control",
		Author:      "ObjectOS Authors",
		License:     "Apache-2.0",
		Keywords:    []string{"permissions", "rls", "profiles"},
		Permissions: []string{"permissions.check", "permissions.manage"},
	}
	if p.opts.Engine.CachePermissions && p.opts.CacheBackend == plugincache.BackendRedis {
		m.Dependencies = map[string]string{plugincache.PluginID: "^1.0.0"}
	}
	return m
}

// resultCache picks where check results live. The default is a private
// in-process cache so enabling permission caching needs no other plugin;
// "redis" shares the cache service for multi-instance invalidation.
func (p *Plugin) resultCache(pc *plugin.Context) (cache.Cache, error) {
	switch p.opts.CacheBackend {
	case "", plugincache.BackendMemory:
		p.owned = cache.NewMemory(time.Minute)
		return p.owned, nil
	case plugincache.BackendRedis:
		svc, err := pc.GetService(plugincache.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("permission cache backend redis needs the cache service: %w", err)
		}
		typed, ok := svc.(cache.Cache)
		if !ok {
			return nil, fmt.Errorf("cache service has unexpected type %T", svc)
		}
		return typed, nil
	default:
		return nil, fmt.Errorf("unknown permission cache backend %q", p.opts.CacheBackend)
	}
}

func (p *Plugin) Init(ctx context.Context, pc *plugin.Context) error {
	var store cache.Cache
	if p.opts.Engine.CachePermissions {
		var err error
		if store, err = p.resultCache(pc); err != nil {
			return err
		}
	}

	p.engine = permission.New(p.opts.Engine, store)

	if dir := p.opts.Engine.PermissionsDir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			sets, err := permission.LoadDir(dir)
			if err != nil {
				return err
			}
			if err := p.engine.RegisterSets(ctx, sets...); err != nil {
				return err
			}
			pc.Infof("Loaded %d permission sets from %s", len(sets), dir)
		} else {
			pc.Warnf("Permissions directory %s not readable: %v", dir, err)
		}
	}

	if err := p.hookGates(pc); err != nil {
		return err
	}
	return pc.RegisterService(ServiceName, p.engine)
}

// hookGates attaches enforcement to the data gates. Each handler returns a
// typed permission error on denial, which aborts the operation.
func (p *Plugin) hookGates(pc *plugin.Context) error {
	gates := map[string]hooks.Handler{
		hooks.TopicDataBeforeCreate: p.beforeCreate,
		hooks.TopicDataBeforeUpdate: p.beforeUpdate,
		hooks.TopicDataBeforeDelete: p.beforeDelete,
		hooks.TopicDataBeforeFind:   p.beforeFind,
	}
	for topic, handler := range gates {
		if err := pc.Hook(topic, handler); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) beforeCreate(ctx context.Context, payload map[string]interface{}) error {
	uctx, ok := permission.FromPayload(payload)
	if !ok {
		return nil
	}
	object := objectName(payload)

	result, err := p.engine.Check(ctx, uctx, object, permission.ActionCreate)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return deny(uctx, object, permission.ActionCreate)
	}

	if record, ok := recordField(payload, "record"); ok {
		payload["record"] = p.stripUneditable(uctx, object, record)
	}
	return nil
}

func (p *Plugin) beforeUpdate(ctx context.Context, payload map[string]interface{}) error {
	uctx, ok := permission.FromPayload(payload)
	if !ok {
		return nil
	}
	object := objectName(payload)

	result, err := p.engine.Check(ctx, uctx, object, permission.ActionUpdate)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return deny(uctx, object, permission.ActionUpdate)
	}

	// Record-level write rules: owners write their records; otherwise a
	// sharing rule must grant read_write.
	if record, ok := recordField(payload, "record"); ok {
		if !p.engine.CanWriteRecord(uctx, object, record) {
			return deny(uctx, object, permission.ActionUpdate)
		}
	}

	if patch, ok := recordField(payload, "patch"); ok {
		payload["patch"] = p.stripUneditable(uctx, object, patch)
	}
	return nil
}

func (p *Plugin) beforeDelete(ctx context.Context, payload map[string]interface{}) error {
	uctx, ok := permission.FromPayload(payload)
	if !ok {
		return nil
	}
	object := objectName(payload)

	result, err := p.engine.Check(ctx, uctx, object, permission.ActionDelete)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return deny(uctx, object, permission.ActionDelete)
	}

	if record, ok := recordField(payload, "record"); ok {
		if !p.engine.CanWriteRecord(uctx, object, record) {
			return deny(uctx, object, permission.ActionDelete)
		}
	}
	return nil
}

// beforeFind narrows the query filter to the rows the caller may see:
// profile view filters from the object check, then organization-wide
// defaults, sharing rules and tenant isolation.
func (p *Plugin) beforeFind(ctx context.Context, payload map[string]interface{}) error {
	uctx, ok := permission.FromPayload(payload)
	if !ok {
		return nil
	}
	object := objectName(payload)

	result, err := p.engine.Check(ctx, uctx, object, permission.ActionRead)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return deny(uctx, object, permission.ActionRead)
	}

	rls, err := p.engine.RecordFilters(ctx, uctx, object)
	if err != nil {
		return err
	}

	filter, _ := payload["filter"].(map[string]interface{})
	filter = mergeFilters(filter, result.Filters)
	filter = mergeFilters(filter, rls)
	if filter != nil {
		payload["filter"] = filter
	}
	return nil
}

// stripUneditable drops fields the caller may not edit. Dropping (rather
// than failing) mirrors the read side, where hidden fields vanish from
// records instead of erroring the request.
func (p *Plugin) stripUneditable(uctx permission.Context, object string, record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for field, value := range record {
		editable, err := p.engine.CheckField(uctx, object, field, permission.FieldActionEdit)
		if err != nil || !editable {
			continue
		}
		out[field] = value
	}
	return out
}

// Start begins watching the permissions directory when hot reload is on.
func (p *Plugin) Start(ctx context.Context, pc *plugin.Context) error {
	if !p.opts.Watch || p.opts.Engine.PermissionsDir == "" {
		return nil
	}

	p.watcher = permission.NewWatcher(permission.WatcherConfig{
		Dir: p.opts.Engine.PermissionsDir,
		OnChange: func() {
			if err := p.engine.Reload(context.Background()); err != nil {
				pc.Errorf(err, "Permission reload failed")
			}
		},
	})
	return p.watcher.Start()
}

func (p *Plugin) Destroy(ctx context.Context) error {
	if p.owned != nil {
		_ = p.owned.Close()
	}
	if p.watcher != nil {
		return p.watcher.Stop()
	}
	return nil
}

// HealthCheck reports set and cache statistics.
func (p *Plugin) HealthCheck(ctx context.Context) plugin.HealthResult {
	if p.engine == nil {
		return plugin.HealthResult{Status: plugin.HealthUnhealthy, Message: "engine not initialized"}
	}
	return plugin.HealthResult{Status: plugin.HealthHealthy, Metrics: p.engine.Stats()}
}

func deny(uctx permission.Context, object, action string) error {
	return apierr.NewPermissionDeniedError(uctx.UserID, object, action)
}

func objectName(payload map[string]interface{}) string {
	name, _ := payload["objectName"].(string)
	return name
}

func recordField(payload map[string]interface{}, key string) (map[string]interface{}, bool) {
	record, ok := payload[key].(map[string]interface{})
	return record, ok
}

// mergeFilters ANDs two filter maps. Scalar keys from b overwrite a;
// colliding $or groups expand to their cross product so both groups keep
// applying.
func mergeFilters(a, b map[string]interface{}) map[string]interface{} {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}

	merged := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		if k == "$or" {
			if prior, exists := merged["$or"]; exists {
				merged["$or"] = crossOr(prior, v)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// crossOr combines two $or alternative lists into the alternatives of their
// conjunction. An empty product hides everything, which errs on the side of
// denial.
func crossOr(a, b interface{}) []interface{} {
	listA, okA := a.([]interface{})
	listB, okB := b.([]interface{})
	if !okA || !okB {
		return []interface{}{}
	}

	var combined []interface{}
	for _, ai := range listA {
		am, ok := ai.(map[string]interface{})
		if !ok {
			continue
		}
		for _, bi := range listB {
			bm, ok := bi.(map[string]interface{})
			if !ok {
				continue
			}
			pair := make(map[string]interface{}, len(am)+len(bm))
			for k, v := range am {
				pair[k] = v
			}
			for k, v := range bm {
				pair[k] = v
			}
			combined = append(combined, pair)
		}
	}
	return combined
}
