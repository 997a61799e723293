// Package permission implements object, field, and record-level access
// control. Permission sets attach per-profile grants to objects; the engine
// answers Check / CheckField / RecordFilters for a caller context, caches
// object-level results by (user, object, action), and substitutes template
// variables into record filters.
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"objectos/internal/cache"
	"objectos/internal/template"
	"objectos/pkg/logging"
)

// objectConfig is the merged view of every permission set targeting one
// object.
type objectConfig struct {
	object        string
	defaultAccess AccessLevel
	ownerField    string
	profiles      map[string]ObjectPermission
	fields        map[string]FieldPermission
	sharingRules  []SharingRule
}

// Engine evaluates permission checks against the loaded permission sets.
// All methods are safe for concurrent use; Reload swaps the set atomically
// under the write lock.
type Engine struct {
	mu      sync.RWMutex
	sets    map[string]*Set
	objects map[string]*objectConfig

	cfg   Config
	cache cache.Cache
	tmpl  *template.Engine

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// New creates an engine with the given configuration. The cache may be nil,
// which disables result caching regardless of cfg.CachePermissions.
func New(cfg Config, c cache.Cache) *Engine {
	if cfg.TenantField == "" {
		cfg.TenantField = defaultTenantField
	}
	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = defaultCacheTTL
	}
	return &Engine{
		sets:    make(map[string]*Set),
		objects: make(map[string]*objectConfig),
		cfg:     cfg,
		cache:   c,
		tmpl:    template.New(),
	}
}

// RegisterSets validates and registers permission sets, merging them into the
// per-object view. Validation problems across all sets are collected into a
// single ValidationErrors; none of the sets is registered when any fails.
func (e *Engine) RegisterSets(ctx context.Context, sets ...*Set) error {
	if err := validateSets(sets); err != nil {
		return err
	}

	e.mu.Lock()
	for _, s := range sets {
		e.sets[s.Name] = s
		e.mergeLocked(s)
	}
	e.mu.Unlock()

	return e.invalidate(ctx)
}

// mergeLocked folds a set into the per-object config. Later registrations
// win per profile and per field; sharing rules accumulate.
func (e *Engine) mergeLocked(s *Set) {
	oc, ok := e.objects[s.Object]
	if !ok {
		oc = &objectConfig{
			object:        s.Object,
			defaultAccess: AccessPrivate,
			ownerField:    defaultOwnerField,
			profiles:      make(map[string]ObjectPermission),
			fields:        make(map[string]FieldPermission),
		}
		e.objects[s.Object] = oc
	}
	if s.DefaultAccess != "" {
		oc.defaultAccess = s.DefaultAccess
	}
	if s.OwnerField != "" {
		oc.ownerField = s.OwnerField
	}
	for profile, perm := range s.Profiles {
		oc.profiles[profile] = perm
	}
	for field, perm := range s.Fields {
		oc.fields[field] = perm
	}
	oc.sharingRules = append(oc.sharingRules, s.SharingRules...)
}

// Check answers whether the caller may perform action on object. Denials are
// reported in the result, not as an error; the returned error only flags
// malformed input such as an unknown action.
func (e *Engine) Check(ctx context.Context, uctx Context, object, action string) (Result, error) {
	if !validAction(action) {
		return Result{}, fmt.Errorf("unknown action %q", action)
	}
	if !e.cfg.Enabled {
		return Result{Allowed: true}, nil
	}

	if cached, ok := e.cachedResult(ctx, uctx.UserID, object, action); ok {
		return cached, nil
	}

	result := e.evaluate(uctx, object, action)
	e.storeResult(ctx, uctx.UserID, object, action, result)
	return result, nil
}

// evaluate runs the uncached profile evaluation.
func (e *Engine) evaluate(uctx Context, object, action string) Result {
	e.mu.RLock()
	oc, ok := e.objects[object]
	e.mu.RUnlock()

	if !ok {
		if e.cfg.DefaultDeny {
			return Result{
				Allowed: false,
				Reason:  fmt.Sprintf("No permission set defined for object '%s'", object),
			}
		}
		return Result{Allowed: true}
	}

	allowed := false
	unrestricted := false
	var filters []map[string]interface{}

	e.mu.RLock()
	for _, profile := range uctx.Profiles {
		perm, ok := oc.profiles[profile]
		if !ok || !perm.Allows(action) {
			continue
		}
		allowed = true
		if len(perm.ViewFilters) == 0 {
			unrestricted = true
			continue
		}
		filters = append(filters, perm.ViewFilters)
	}
	e.mu.RUnlock()

	if !allowed {
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("No permission for action '%s' on object '%s'", action, object),
		}
	}
	if unrestricted {
		return Result{Allowed: true}
	}

	combined := combineOr(filters)
	substituted, err := e.tmpl.ReplaceLenient(combined, e.templateContext(uctx))
	if err != nil {
		logging.Warn("Permissions", "Filter substitution failed for object %s: %v", object, err)
		return Result{Allowed: true, Filters: combined}
	}
	result, _ := substituted.(map[string]interface{})
	return Result{Allowed: true, Filters: result}
}

// combineOr merges profile view filters. One filter passes through unchanged;
// several are alternatives under a top-level $or.
func combineOr(filters []map[string]interface{}) map[string]interface{} {
	switch len(filters) {
	case 0:
		return nil
	case 1:
		return filters[0]
	}
	alternatives := make([]interface{}, len(filters))
	for i, f := range filters {
		alternatives[i] = f
	}
	return map[string]interface{}{"$or": alternatives}
}

// CheckField answers whether the caller may read or edit one field. Fields
// without a declared permission fall back to unrestricted; the object-level
// check still applies separately.
func (e *Engine) CheckField(uctx Context, object, field, action string) (bool, error) {
	if action != FieldActionRead && action != FieldActionEdit {
		return false, fmt.Errorf("unknown field action %q", action)
	}
	if !e.cfg.Enabled {
		return true, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	oc, ok := e.objects[object]
	if !ok {
		return !e.cfg.DefaultDeny, nil
	}
	perm, ok := oc.fields[field]
	if !ok {
		return true, nil
	}

	switch action {
	case FieldActionRead:
		return anyProfileIn(uctx.Profiles, perm.VisibleTo), nil
	default:
		return anyProfileIn(uctx.Profiles, perm.EditableBy), nil
	}
}

// ApplyFieldSecurity returns a copy of record with the fields the caller may
// not read removed. Used by the data hooks to redact find results.
func (e *Engine) ApplyFieldSecurity(uctx Context, object string, record map[string]interface{}) map[string]interface{} {
	if !e.cfg.Enabled || record == nil {
		return record
	}

	e.mu.RLock()
	oc, ok := e.objects[object]
	e.mu.RUnlock()
	if !ok || len(oc.fields) == 0 {
		return record
	}

	filtered := make(map[string]interface{}, len(record))
	for field, value := range record {
		perm, declared := oc.fields[field]
		if declared && !anyProfileIn(uctx.Profiles, perm.VisibleTo) {
			continue
		}
		filtered[field] = value
	}
	return filtered
}

func anyProfileIn(profiles, allowed []string) bool {
	for _, p := range profiles {
		for _, a := range allowed {
			if p == a {
				return true
			}
		}
	}
	return false
}

// templateContext builds the substitution variables for filter templates:
// userId, profile (first profile), and every metadata key.
func (e *Engine) templateContext(uctx Context) map[string]interface{} {
	tctx := make(map[string]interface{}, len(uctx.Metadata)+2)
	for k, v := range uctx.Metadata {
		tctx[k] = v
	}
	tctx["userId"] = uctx.UserID
	tctx["profile"] = uctx.FirstProfile()
	return tctx
}

// Sets returns the registered permission sets sorted by name.
func (e *Engine) Sets() []*Set {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*Set, 0, len(e.sets))
	for _, s := range e.sets {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Set returns one permission set by name.
func (e *Engine) Set(name string) (*Set, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sets[name]
	return s, ok
}

// Objects returns the object names covered by at least one set, sorted.
func (e *Engine) Objects() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]string, 0, len(e.objects))
	for name := range e.objects {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Stats reports engine counters for the metrics surface.
func (e *Engine) Stats() map[string]interface{} {
	e.mu.RLock()
	sets, objects := len(e.sets), len(e.objects)
	e.mu.RUnlock()

	return map[string]interface{}{
		"permissionSets": sets,
		"objects":        objects,
		"cacheHits":      e.cacheHits.Load(),
		"cacheMisses":    e.cacheMisses.Load(),
	}
}

// cacheKey builds the (user, object, action) cache key. The perm: namespace
// keeps user-scoped invalidation a prefix delete.
func cacheKey(userID, object, action string) string {
	return fmt.Sprintf("perm:%s:%s:%s", userID, object, action)
}

func (e *Engine) cacheEnabled() bool {
	return e.cfg.CachePermissions && e.cache != nil
}

func (e *Engine) cachedResult(ctx context.Context, userID, object, action string) (Result, bool) {
	if !e.cacheEnabled() {
		return Result{}, false
	}

	raw, ok, err := e.cache.Get(ctx, cacheKey(userID, object, action))
	if err != nil {
		logging.Warn("Permissions", "Cache read failed: %v", err)
		return Result{}, false
	}
	if !ok {
		e.cacheMisses.Add(1)
		return Result{}, false
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		e.cacheMisses.Add(1)
		return Result{}, false
	}
	e.cacheHits.Add(1)
	return result, true
}

func (e *Engine) storeResult(ctx context.Context, userID, object, action string, result Result) {
	if !e.cacheEnabled() {
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	ttl := time.Duration(e.cfg.CacheTTLSeconds) * time.Second
	if err := e.cache.Set(ctx, cacheKey(userID, object, action), raw, ttl); err != nil {
		logging.Warn("Permissions", "Cache write failed: %v", err)
	}
}

// ClearUserCache drops every cached result for one user.
func (e *Engine) ClearUserCache(ctx context.Context, userID string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.DeletePrefix(ctx, "perm:"+userID+":")
}

// invalidate drops every cached permission result. Called after any set
// registration or reload.
func (e *Engine) invalidate(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.DeletePrefix(ctx, "perm:")
}

// Reload re-reads the configured permissions directory, swaps the loaded
// sets atomically, and invalidates the result cache. Without a configured
// directory it only invalidates.
func (e *Engine) Reload(ctx context.Context) error {
	if e.cfg.PermissionsDir == "" {
		return e.invalidate(ctx)
	}

	sets, err := LoadDir(e.cfg.PermissionsDir)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.sets = make(map[string]*Set)
	e.objects = make(map[string]*objectConfig)
	for _, s := range sets {
		e.sets[s.Name] = s
		e.mergeLocked(s)
	}
	e.mu.Unlock()

	logging.Info("Permissions", "Reloaded %d permission sets covering %d objects from %s",
		len(sets), len(e.Objects()), e.cfg.PermissionsDir)
	return e.invalidate(ctx)
}

func validAction(action string) bool {
	switch action {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}
