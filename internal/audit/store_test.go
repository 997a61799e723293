package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectos/internal/apierr"
	"objectos/internal/storage"
)

// storeFactories builds each Store implementation against fresh state so the
// behavioral suite runs identically over memory and bolt.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(0)
		},
		"bolt": func(t *testing.T) Store {
			db, err := storage.Open(filepath.Join(t.TempDir(), "audit.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })

			s, err := NewBoltStore(db)
			require.NoError(t, err)
			return s
		},
	}
}

func seedEntries(t *testing.T, s Store, n int) []*Entry {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := make([]*Entry, n)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		entry := &Entry{
			ID:         fmt.Sprintf("audit_%d_%04d", ts.UnixMilli(), i),
			EventType:  "data.create",
			ObjectName: "account",
			RecordID:   fmt.Sprintf("r%d", i),
			UserID:     "u1",
			Timestamp:  ts,
		}
		if i%2 == 1 {
			entry.EventType = "data.update"
			entry.UserID = "u2"
		}
		require.NoError(t, s.Append(context.Background(), entry))
		entries[i] = entry
	}
	return entries
}

func TestStoreQueryFilters(t *testing.T) {
	for name, build := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := build(t)
			ctx := context.Background()
			seedEntries(t, s, 6)

			byRecord, total, err := s.Query(ctx, Query{ObjectName: "account", RecordID: "r3"})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			require.Len(t, byRecord, 1)
			assert.Equal(t, "r3", byRecord[0].RecordID)

			_, total, err = s.Query(ctx, Query{UserID: "u2"})
			require.NoError(t, err)
			assert.Equal(t, 3, total)

			_, total, err = s.Query(ctx, Query{EventType: "data.update"})
			require.NoError(t, err)
			assert.Equal(t, 3, total)

			_, total, err = s.Query(ctx, Query{ObjectName: "missing"})
			require.NoError(t, err)
			assert.Equal(t, 0, total)
		})
	}
}

func TestStoreQueryDateRange(t *testing.T) {
	for name, build := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := build(t)
			ctx := context.Background()
			entries := seedEntries(t, s, 6)

			got, total, err := s.Query(ctx, Query{
				Start: entries[2].Timestamp,
				End:   entries[4].Timestamp,
			})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, got, 3)

			// Default order is newest first.
			assert.Equal(t, entries[4].ID, got[0].ID)
			assert.Equal(t, entries[2].ID, got[2].ID)
		})
	}
}

func TestStoreQueryPaginationAndOrder(t *testing.T) {
	for name, build := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := build(t)
			ctx := context.Background()
			entries := seedEntries(t, s, 10)

			page, total, err := s.Query(ctx, Query{Limit: 3, Offset: 0})
			require.NoError(t, err)
			assert.Equal(t, 10, total)
			require.Len(t, page, 3)
			assert.Equal(t, entries[9].ID, page[0].ID, "newest first by default")

			page2, _, err := s.Query(ctx, Query{Limit: 3, Offset: 3})
			require.NoError(t, err)
			require.Len(t, page2, 3)
			assert.Equal(t, entries[6].ID, page2[0].ID)

			asc, _, err := s.Query(ctx, Query{Limit: 2, Ascending: true})
			require.NoError(t, err)
			require.Len(t, asc, 2)
			assert.Equal(t, entries[0].ID, asc[0].ID)

			// Offset past the end yields an empty page, not an error.
			empty, total, err := s.Query(ctx, Query{Limit: 5, Offset: 50})
			require.NoError(t, err)
			assert.Equal(t, 10, total)
			assert.Empty(t, empty)
		})
	}
}

func TestStoreGet(t *testing.T) {
	for name, build := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := build(t)
			ctx := context.Background()
			entries := seedEntries(t, s, 3)

			got, err := s.Get(ctx, entries[1].ID)
			require.NoError(t, err)
			assert.Equal(t, entries[1].RecordID, got.RecordID)

			_, err = s.Get(ctx, "audit_unknown")
			assert.True(t, apierr.IsNotFound(err), "expected not-found, got %v", err)
		})
	}
}

func TestStoreDeleteOlderThan(t *testing.T) {
	for name, build := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := build(t)
			ctx := context.Background()
			entries := seedEntries(t, s, 6)

			removed, err := s.DeleteOlderThan(ctx, entries[3].Timestamp)
			require.NoError(t, err)
			assert.Equal(t, 3, removed)

			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			// Survivors are exactly the entries at or after the cutoff.
			_, total, err := s.Query(ctx, Query{Start: entries[3].Timestamp})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
		})
	}
}

func TestMemoryStoreBound(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	entries := seedEntries(t, s, 5)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// The oldest entries fell off.
	_, err = s.Get(ctx, entries[0].ID)
	assert.True(t, apierr.IsNotFound(err))
	_, err = s.Get(ctx, entries[4].ID)
	assert.NoError(t, err)
}
