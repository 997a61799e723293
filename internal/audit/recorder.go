package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"objectos/internal/hooks"
	"objectos/pkg/logging"
)

// EmitFunc publishes an observer event after an entry is stored. The
// recorder never fails recording because emission failed.
type EmitFunc func(ctx context.Context, topic string, payload map[string]interface{}) error

// TopicRecorded is emitted after every successful append.
const TopicRecorded = hooks.TopicAuditRecorded

// Recorder turns event payloads into audit entries. It is registered as an
// observer on the data.* and job.* topics, so a failing append surfaces in
// the trigger's joined error without aborting the mutation that already
// happened.
type Recorder struct {
	cfg      Config
	store    Store
	emit     EmitFunc
	excluded map[string]bool
	now      func() time.Time

	mu          sync.Mutex
	byEventType map[string]int64
	byObject    map[string]int64
}

// NewRecorder creates a recorder appending to store. emit may be nil.
func NewRecorder(cfg Config, store Store, emit EmitFunc) *Recorder {
	fields := cfg.ExcludedFields
	if len(fields) == 0 {
		fields = DefaultExcludedFields
	}
	excluded := make(map[string]bool, len(fields))
	for _, f := range fields {
		excluded[strings.ToLower(f)] = true
	}

	return &Recorder{
		cfg:         cfg,
		store:       store,
		emit:        emit,
		excluded:    excluded,
		now:         time.Now,
		byEventType: make(map[string]int64),
		byObject:    make(map[string]int64),
	}
}

// Record builds and appends one entry for an event. Events for objects
// outside the audited list are skipped silently.
func (r *Recorder) Record(ctx context.Context, eventType string, payload map[string]interface{}) error {
	if !r.cfg.Enabled {
		return nil
	}

	objectName := stringField(payload, "objectName")
	if !r.auditsObject(objectName) {
		return nil
	}

	now := r.now()
	entry := &Entry{
		ID:         newEntryID(now),
		EventType:  eventType,
		ObjectName: objectName,
		RecordID:   stringField(payload, "recordId"),
		UserID:     stringField(payload, "userId"),
		Timestamp:  now,
		Data:       r.sanitize(payload),
	}

	if r.cfg.TrackFieldChanges {
		entry.Changes = r.extractChanges(payload)
	}

	if err := r.store.Append(ctx, entry); err != nil {
		logging.Error("Audit", err, "Failed to append entry for %s", eventType)
		return err
	}

	r.mu.Lock()
	r.byEventType[eventType]++
	if objectName != "" {
		r.byObject[objectName]++
	}
	r.mu.Unlock()

	if r.emit != nil {
		if err := r.emit(ctx, TopicRecorded, map[string]interface{}{
			"auditId":    entry.ID,
			"eventType":  eventType,
			"objectName": objectName,
		}); err != nil {
			logging.Warn("Audit", "Emitting %s failed: %v", TopicRecorded, err)
		}
	}
	return nil
}

// auditsObject applies the auditedObjects allowlist. Events without an
// object (job.* events) are always audited.
func (r *Recorder) auditsObject(objectName string) bool {
	if len(r.cfg.AuditedObjects) == 0 || objectName == "" {
		return true
	}
	for _, o := range r.cfg.AuditedObjects {
		if o == objectName {
			return true
		}
	}
	return false
}

// extractChanges collects every payload value under "changes" with the
// {oldValue, newValue} shape, dropping excluded fields. The result is
// sorted by field name so entries are stable.
func (r *Recorder) extractChanges(payload map[string]interface{}) []FieldChange {
	raw, ok := payload["changes"].(map[string]interface{})
	if !ok {
		return nil
	}

	var changes []FieldChange
	for field, value := range raw {
		if r.excluded[strings.ToLower(field)] {
			continue
		}
		pair, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		oldValue, hasOld := pair["oldValue"]
		newValue, hasNew := pair["newValue"]
		if !hasOld || !hasNew {
			continue
		}
		changes = append(changes, FieldChange{Field: field, OldValue: oldValue, NewValue: newValue})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

// sanitize deep-copies the payload with excluded fields removed at every
// nesting level.
func (r *Recorder) sanitize(value map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(value))
	for key, val := range value {
		if r.excluded[strings.ToLower(key)] {
			continue
		}
		result[key] = r.sanitizeValue(val)
	}
	return result
}

func (r *Recorder) sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return r.sanitize(v)
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = r.sanitizeValue(item)
		}
		return result
	default:
		return value
	}
}

// Query forwards to the store.
func (r *Recorder) Query(ctx context.Context, q Query) ([]*Entry, int, error) {
	return r.store.Query(ctx, q)
}

// Get forwards to the store.
func (r *Recorder) Get(ctx context.Context, id string) (*Entry, error) {
	return r.store.Get(ctx, id)
}

// Stats reports stored totals and per-type counters since boot.
func (r *Recorder) Stats(ctx context.Context) (map[string]interface{}, error) {
	total, err := r.store.Count(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	byEventType := make(map[string]int64, len(r.byEventType))
	for k, v := range r.byEventType {
		byEventType[k] = v
	}
	byObject := make(map[string]int64, len(r.byObject))
	for k, v := range r.byObject {
		byObject[k] = v
	}
	r.mu.Unlock()

	return map[string]interface{}{
		"totalEntries": total,
		"byEventType":  byEventType,
		"byObject":     byObject,
	}, nil
}

func stringField(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
