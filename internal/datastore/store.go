// Package datastore is the reference in-memory data driver backing the
// /api/v1/data surface. Every mutation fires its gate hook before touching
// storage and its observer hook after, so permission checks and audit trails
// compose without the store knowing about either.
package datastore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"objectos/internal/apierr"
	"objectos/internal/hooks"
)

// Record is one row of an object. Values are JSON-shaped.
type Record map[string]interface{}

func (r Record) clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// asMap exposes a copy as a plain map. Hook payloads carry plain maps so
// handlers never need this package's types.
func (r Record) asMap() map[string]interface{} {
	return map[string]interface{}(r.clone())
}

// TriggerFunc fires a hook topic. It matches hooks.Bus.Trigger, so the bus
// method is passed in directly.
type TriggerFunc func(ctx context.Context, topic string, payload map[string]interface{}) error

// Query selects, orders and pages records. Filter supports flat field
// equality plus an "$or" key holding a list of sub-filters, the same shapes
// the permission engine emits as row-level filters.
type Query struct {
	Filter   map[string]interface{}
	Search   string
	SortBy   string
	Order    string // asc (default) or desc
	Page     int
	PageSize int
}

// Result is one page of records plus the unpaged total.
type Result struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Store holds records per object, guarded by one RWMutex. Hooks fire outside
// the lock so handlers may call back into the store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]map[string]Record
	trigger TriggerFunc
	now     func() time.Time
}

// New creates an empty store. trigger may be nil to run without hooks.
func New(trigger TriggerFunc) *Store {
	return &Store{
		objects: make(map[string]map[string]Record),
		trigger: trigger,
		now:     time.Now,
	}
}

// Create inserts a record. The record travels through the data.beforeCreate
// gate first, so handlers may reject it or default fields on it; the
// possibly-rewritten record is what gets stored. meta entries (userId,
// context) are merged into every hook payload.
func (s *Store) Create(ctx context.Context, object string, record Record, meta map[string]interface{}) (Record, error) {
	if object == "" {
		return nil, fmt.Errorf("object name must not be empty")
	}
	if record == nil {
		return nil, fmt.Errorf("record must not be nil")
	}

	record = record.clone()
	if _, ok := record["id"]; !ok {
		record["id"] = "rec_" + uuid.NewString()
	}
	id, ok := record["id"].(string)
	if !ok || id == "" {
		verr := &apierr.ValidationErrors{}
		verr.Add("id", "record id must be a non-empty string")
		return nil, verr
	}

	now := s.now().UTC().Format(time.RFC3339)
	record["createdAt"] = now
	record["updatedAt"] = now

	payload := s.payload(object, meta)
	payload["recordId"] = id
	payload["record"] = record.asMap()
	if err := s.fire(ctx, hooks.TopicDataBeforeCreate, payload); err != nil {
		return nil, err
	}

	// Gate handlers may have replaced the record wholesale; the id stays.
	if rewritten, ok := payload["record"].(Record); ok {
		record = rewritten
	} else if rewritten, ok := payload["record"].(map[string]interface{}); ok {
		record = Record(rewritten)
	}
	record["id"] = id

	s.mu.Lock()
	rows := s.objects[object]
	if rows == nil {
		rows = make(map[string]Record)
		s.objects[object] = rows
	}
	if _, exists := rows[id]; exists {
		s.mu.Unlock()
		return nil, apierr.NewConflictError("record", object+"/"+id)
	}
	rows[id] = record.clone()
	s.mu.Unlock()

	after := s.payload(object, meta)
	after["recordId"] = id
	after["record"] = record.asMap()
	s.fireObserver(ctx, hooks.TopicDataCreate, after)

	return record.clone(), nil
}

// Get fetches one record by id. The lookup runs through the data.beforeFind
// gate with a {id: …} filter, so row-level filters injected by handlers hide
// records the caller may not see; a hidden record reads as not found.
func (s *Store) Get(ctx context.Context, object, id string, meta map[string]interface{}) (Record, error) {
	payload := s.payload(object, meta)
	payload["recordId"] = id
	payload["filter"] = map[string]interface{}{"id": id}
	if err := s.fire(ctx, hooks.TopicDataBeforeFind, payload); err != nil {
		return nil, err
	}
	filter := filterFromPayload(payload)

	s.mu.RLock()
	record, exists := s.objects[object][id]
	if exists {
		record = record.clone()
	}
	s.mu.RUnlock()

	if !exists || !matchesFilter(record, filter) {
		return nil, apierr.NewNotFoundError("record", object+"/"+id)
	}

	after := s.payload(object, meta)
	after["recordId"] = id
	after["count"] = 1
	s.fireObserver(ctx, hooks.TopicDataFind, after)

	return record, nil
}

// Update applies a partial patch. The hook payloads carry a changes map of
// {field: {oldValue, newValue}} for every field the patch actually changes.
func (s *Store) Update(ctx context.Context, object, id string, patch Record, meta map[string]interface{}) (Record, error) {
	if len(patch) == 0 {
		verr := &apierr.ValidationErrors{}
		verr.Add("record", "update patch must not be empty")
		return nil, verr
	}

	s.mu.RLock()
	existing, exists := s.objects[object][id]
	if exists {
		existing = existing.clone()
	}
	s.mu.RUnlock()
	if !exists {
		return nil, apierr.NewNotFoundError("record", object+"/"+id)
	}

	changes := map[string]interface{}{}
	for field, newValue := range patch {
		if field == "id" || field == "createdAt" || field == "updatedAt" {
			continue
		}
		if !valuesEqual(existing[field], newValue) {
			changes[field] = map[string]interface{}{
				"oldValue": existing[field],
				"newValue": newValue,
			}
		}
	}

	payload := s.payload(object, meta)
	payload["recordId"] = id
	payload["record"] = existing.asMap()
	payload["patch"] = patch.asMap()
	payload["changes"] = changes
	if err := s.fire(ctx, hooks.TopicDataBeforeUpdate, payload); err != nil {
		return nil, err
	}

	// Gate handlers may have narrowed the patch (field security strips
	// uneditable fields); apply what survived and keep the change list in
	// step with it.
	if rewritten, ok := payload["patch"].(map[string]interface{}); ok {
		patch = Record(rewritten)
	} else if rewritten, ok := payload["patch"].(Record); ok {
		patch = rewritten
	}
	for field := range changes {
		if _, kept := patch[field]; !kept {
			delete(changes, field)
		}
	}

	updated := existing.clone()
	for field, newValue := range patch {
		if field == "id" || field == "createdAt" {
			continue
		}
		updated[field] = newValue
	}
	updated["updatedAt"] = s.now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	if _, still := s.objects[object][id]; !still {
		s.mu.Unlock()
		return nil, apierr.NewNotFoundError("record", object+"/"+id)
	}
	s.objects[object][id] = updated.clone()
	s.mu.Unlock()

	after := s.payload(object, meta)
	after["recordId"] = id
	after["record"] = updated.asMap()
	after["changes"] = changes
	s.fireObserver(ctx, hooks.TopicDataUpdate, after)

	return updated.clone(), nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, object, id string, meta map[string]interface{}) error {
	s.mu.RLock()
	existing, exists := s.objects[object][id]
	if exists {
		existing = existing.clone()
	}
	s.mu.RUnlock()
	if !exists {
		return apierr.NewNotFoundError("record", object+"/"+id)
	}

	payload := s.payload(object, meta)
	payload["recordId"] = id
	payload["record"] = existing.asMap()
	if err := s.fire(ctx, hooks.TopicDataBeforeDelete, payload); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.objects[object], id)
	s.mu.Unlock()

	after := s.payload(object, meta)
	after["recordId"] = id
	after["record"] = existing.asMap()
	s.fireObserver(ctx, hooks.TopicDataDelete, after)

	return nil
}

// Find selects records matching the query. Handlers on data.beforeFind may
// tighten payload["filter"], which is how row-level security filters reach
// the store.
func (s *Store) Find(ctx context.Context, object string, q Query, meta map[string]interface{}) (*Result, error) {
	payload := s.payload(object, meta)
	payload["filter"] = cloneFilter(q.Filter)
	payload["search"] = q.Search
	if err := s.fire(ctx, hooks.TopicDataBeforeFind, payload); err != nil {
		return nil, err
	}
	filter := filterFromPayload(payload)

	s.mu.RLock()
	matched := make([]Record, 0)
	for _, record := range s.objects[object] {
		if matchesFilter(record, filter) && matchesSearch(record, q.Search) {
			matched = append(matched, record.clone())
		}
	}
	s.mu.RUnlock()

	sortRecords(matched, q.SortBy, q.Order)

	total := len(matched)
	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	after := s.payload(object, meta)
	after["count"] = total
	s.fireObserver(ctx, hooks.TopicDataFind, after)

	return &Result{Records: matched[start:end], Total: total, Page: page}, nil
}

// Count returns the number of records stored for an object.
func (s *Store) Count(object string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects[object])
}

// Objects returns the object names with at least one record, sorted.
func (s *Store) Objects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) payload(object string, meta map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{"objectName": object}
	for k, v := range meta {
		payload[k] = v
	}
	return payload
}

func (s *Store) fire(ctx context.Context, topic string, payload map[string]interface{}) error {
	if s.trigger == nil {
		return nil
	}
	return s.trigger(ctx, topic, payload)
}

// fireObserver fires an after-mutation topic. Observer handler errors are
// already collected and logged by the bus; the mutation has happened, so the
// store does not propagate them.
func (s *Store) fireObserver(ctx context.Context, topic string, payload map[string]interface{}) {
	if s.trigger == nil {
		return
	}
	_ = s.trigger(ctx, topic, payload)
}

func filterFromPayload(payload map[string]interface{}) map[string]interface{} {
	filter, _ := payload["filter"].(map[string]interface{})
	return filter
}

func cloneFilter(filter map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(filter))
	for k, v := range filter {
		c[k] = v
	}
	return c
}

// matchesFilter evaluates flat equality plus "$or" sub-filter lists, the
// filter dialect the permission engine produces.
func matchesFilter(record Record, filter map[string]interface{}) bool {
	for key, want := range filter {
		if key == "$or" {
			if !matchesAny(record, want) {
				return false
			}
			continue
		}
		if !valuesEqual(record[key], want) {
			return false
		}
	}
	return true
}

func matchesAny(record Record, alternatives interface{}) bool {
	list, ok := alternatives.([]interface{})
	if !ok {
		return false
	}
	for _, alt := range list {
		sub, ok := alt.(map[string]interface{})
		if !ok {
			continue
		}
		if matchesFilter(record, sub) {
			return true
		}
	}
	return false
}

// matchesSearch does a case-insensitive substring scan over string values.
func matchesSearch(record Record, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, value := range record {
		if s, ok := value.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// valuesEqual compares loosely across JSON type drift (int vs float64).
func valuesEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func sortRecords(records []Record, sortBy, order string) {
	if sortBy == "" {
		sortBy = "createdAt"
	}
	desc := strings.EqualFold(order, "desc")

	sort.SliceStable(records, func(i, j int) bool {
		if desc {
			return lessValue(records[j][sortBy], records[i][sortBy])
		}
		return lessValue(records[i][sortBy], records[j][sortBy])
	})
}

// lessValue orders numbers numerically and everything else lexically.
func lessValue(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
