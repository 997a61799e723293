package permission

import (
	"context"
	"fmt"

	"objectos/pkg/logging"
)

// RecordFilters returns the record-level filter map for read access to an
// object: the organization-wide default combined with any sharing rules,
// with template variables already substituted. Nil means unrestricted.
func (e *Engine) RecordFilters(ctx context.Context, uctx Context, object string) (map[string]interface{}, error) {
	if !e.cfg.Enabled {
		return nil, nil
	}

	e.mu.RLock()
	oc, ok := e.objects[object]
	e.mu.RUnlock()

	tctx := e.templateContext(uctx)

	var filters map[string]interface{}
	if ok {
		switch oc.defaultAccess {
		case AccessPublicReadWrite, AccessPublicReadOnly:
			// Reads are unrestricted; sharing rules only matter for
			// write grading.
		default:
			// private and controlled_by_parent: baseline owner filter,
			// sharing rules widen it.
			owner := map[string]interface{}{oc.ownerField: uctx.UserID}
			extra := sharingFilters(oc, SharingAccessRead)
			if len(extra) == 0 {
				filters = owner
			} else {
				alternatives := append([]interface{}{owner}, extra...)
				filters = map[string]interface{}{"$or": alternatives}
			}
		}
	}

	filters = e.withTenantFilter(filters, uctx)
	if filters == nil {
		return nil, nil
	}

	substituted, err := e.tmpl.ReplaceLenient(filters, tctx)
	if err != nil {
		return nil, fmt.Errorf("substituting record filters for %s: %w", object, err)
	}
	result, _ := substituted.(map[string]interface{})
	return result, nil
}

// CanWriteRecord applies the record-level write rules to one record: owners
// always write their records; public_read_write objects are open; otherwise
// a sharing rule granting read_write must match.
func (e *Engine) CanWriteRecord(uctx Context, object string, record map[string]interface{}) bool {
	if !e.cfg.Enabled {
		return true
	}

	e.mu.RLock()
	oc, ok := e.objects[object]
	e.mu.RUnlock()

	if !ok {
		return !e.cfg.DefaultDeny
	}
	if oc.defaultAccess == AccessPublicReadWrite {
		return true
	}

	if owner, present := record[oc.ownerField]; present && looseEqual(owner, uctx.UserID) {
		return true
	}

	tctx := e.templateContext(uctx)
	for _, rule := range oc.sharingRules {
		if rule.Access != SharingAccessReadWrite {
			continue
		}
		if e.ruleMatches(rule, record, tctx) {
			return true
		}
	}
	return false
}

// sharingFilters returns the substitution-ready filters of every rule whose
// access covers the requested grade. read_write rules also satisfy read.
func sharingFilters(oc *objectConfig, access string) []interface{} {
	var result []interface{}
	for _, rule := range oc.sharingRules {
		if access == SharingAccessReadWrite && rule.Access != SharingAccessReadWrite {
			continue
		}
		if len(rule.Filters) == 0 {
			continue
		}
		result = append(result, rule.Filters)
	}
	return result
}

// ruleMatches reports whether every substituted rule filter equals the
// record's value for that field.
func (e *Engine) ruleMatches(rule SharingRule, record map[string]interface{}, tctx map[string]interface{}) bool {
	substituted, err := e.tmpl.ReplaceLenient(rule.Filters, tctx)
	if err != nil {
		logging.Warn("Permissions", "Sharing rule %s filter substitution failed: %v", rule.Name, err)
		return false
	}
	filters, ok := substituted.(map[string]interface{})
	if !ok {
		return false
	}

	for field, want := range filters {
		got, present := record[field]
		if !present || !looseEqual(got, want) {
			return false
		}
	}
	return len(filters) > 0
}

// withTenantFilter ANDs the organization filter over the result when tenant
// isolation is on and the caller carries an organization id.
func (e *Engine) withTenantFilter(filters map[string]interface{}, uctx Context) map[string]interface{} {
	if !e.cfg.TenantIsolation || uctx.OrganizationID == "" {
		return filters
	}

	if filters == nil {
		return map[string]interface{}{e.cfg.TenantField: uctx.OrganizationID}
	}

	merged := make(map[string]interface{}, len(filters)+1)
	for k, v := range filters {
		merged[k] = v
	}
	merged[e.cfg.TenantField] = uctx.OrganizationID
	return merged
}

// looseEqual compares scalar values by their string form so JSON-decoded
// numbers compare equal to their YAML counterparts.
func looseEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
