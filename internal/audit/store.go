package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"objectos/internal/apierr"
)

// Query selects audit entries. Zero-valued fields do not filter.
type Query struct {
	ObjectName string
	RecordID   string
	UserID     string
	EventType  string

	// Start and End bound the timestamp range inclusively. Zero values
	// leave the corresponding side unbounded.
	Start time.Time
	End   time.Time

	// Limit and Offset paginate the result. Limit zero means 100.
	Limit  int
	Offset int

	// Ascending sorts oldest-first. Default is newest-first.
	Ascending bool
}

const defaultQueryLimit = 100

// matches reports whether the entry satisfies every set filter.
func (q Query) matches(e *Entry) bool {
	if q.ObjectName != "" && e.ObjectName != q.ObjectName {
		return false
	}
	if q.RecordID != "" && e.RecordID != q.RecordID {
		return false
	}
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.EventType != "" && e.EventType != q.EventType {
		return false
	}
	if !q.Start.IsZero() && e.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && e.Timestamp.After(q.End) {
		return false
	}
	return true
}

// paginate sorts and slices matched entries, returning the page and the
// total match count.
func paginate(entries []*Entry, q Query) ([]*Entry, int) {
	sort.SliceStable(entries, func(i, j int) bool {
		if q.Ascending {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	total := len(entries)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	if q.Offset >= total {
		return nil, total
	}
	end := q.Offset + limit
	if end > total {
		end = total
	}
	return entries[q.Offset:end], total
}

// Store is the append-only persistence contract for audit entries.
type Store interface {
	// Append stores one entry. Entries are never mutated afterwards.
	Append(ctx context.Context, entry *Entry) error

	// Query returns the matching page and the total match count.
	Query(ctx context.Context, q Query) ([]*Entry, int, error)

	// Get returns one entry by id.
	Get(ctx context.Context, id string) (*Entry, error)

	// DeleteOlderThan removes entries with a timestamp before the cutoff
	// and reports how many were removed. Retention is the only sanctioned
	// deletion path.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore keeps entries in a bounded in-memory ring; the oldest entries
// fall off when the bound is exceeded.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    []*Entry
	maxEntries int
}

// NewMemoryStore creates a memory store bounded at maxEntries (<=0 uses the
// default of 10000).
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryStore{maxEntries: maxEntries}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if len(s.entries) > s.maxEntries {
		overflow := len(s.entries) - s.maxEntries
		s.entries = append([]*Entry(nil), s.entries[overflow:]...)
	}
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]*Entry, int, error) {
	s.mu.RLock()
	var matched []*Entry
	for _, e := range s.entries {
		if q.matches(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	page, total := paginate(matched, q)
	return page, total, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, apierr.NewNotFoundError("audit entry", id)
}

// DeleteOlderThan implements Store.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
