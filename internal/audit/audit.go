// Package audit records data and job events into an append-only trail.
// The recorder subscribes to observer topics, builds sanitized entries,
// and appends them to a pluggable store; queries filter by object, record,
// user, event type, and date range.
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable audit record.
type Entry struct {
	// ID is unique and sorts chronologically: audit_<unixMillis>_<random>.
	ID string `json:"id"`

	// EventType is the hook topic that produced the entry, e.g.
	// data.update or job.failed.
	EventType string `json:"eventType"`

	// ObjectName is the affected object, when the event carries one.
	ObjectName string `json:"objectName,omitempty"`

	// RecordID is the affected record, when the event carries one.
	RecordID string `json:"recordId,omitempty"`

	// UserID is the acting user resolved from the event payload.
	UserID string `json:"userId,omitempty"`

	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Changes lists per-field old/new values for update events.
	Changes []FieldChange `json:"changes,omitempty"`

	// Data is a sanitized snapshot of the event payload.
	Data map[string]interface{} `json:"data,omitempty"`
}

// FieldChange is one field's transition in an update event.
type FieldChange struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"oldValue"`
	NewValue interface{} `json:"newValue"`
}

// Config mirrors the audit plugin configuration block.
type Config struct {
	// Enabled toggles recording entirely.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// TrackFieldChanges extracts {oldValue,newValue} pairs from update
	// payloads.
	TrackFieldChanges bool `json:"trackFieldChanges" yaml:"trackFieldChanges"`

	// RetentionDays deletes entries older than the cutoff when > 0.
	RetentionDays int `json:"retentionDays" yaml:"retentionDays"`

	// AuditedObjects restricts recording to the listed objects when
	// non-empty.
	AuditedObjects []string `json:"auditedObjects" yaml:"auditedObjects"`

	// ExcludedFields are dropped from snapshots and change lists. Empty
	// means the default blocklist (password, token, secret).
	ExcludedFields []string `json:"excludedFields" yaml:"excludedFields"`

	// MaxEntries bounds the in-memory store. Zero means 10000.
	MaxEntries int `json:"maxEntries" yaml:"maxEntries"`
}

// DefaultExcludedFields is the blocklist applied when the configuration
// does not name one.
var DefaultExcludedFields = []string{"password", "token", "secret"}

const defaultMaxEntries = 10000

// newEntryID builds a chronologically sortable unique id.
func newEntryID(now time.Time) string {
	return fmt.Sprintf("audit_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}
