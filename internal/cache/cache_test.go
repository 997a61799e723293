package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	value, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	current := time.Now()
	m.now = func() time.Time { return current }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 60*time.Second))

	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	// Just before the deadline the entry is alive, just after it is gone.
	current = current.Add(59 * time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.True(t, ok)

	current = current.Add(2 * time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryNoTTLNeverExpires(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	current := time.Now()
	m.now = func() time.Time { return current }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	current = current.Add(24 * time.Hour)

	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryDeleteAndPrefix(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "perm:u1:account:read", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "perm:u1:account:update", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "perm:u2:account:read", []byte("1"), 0))

	require.NoError(t, m.Delete(ctx, "perm:u1:account:read", "does-not-exist"))
	_, ok, _ := m.Get(ctx, "perm:u1:account:read")
	assert.False(t, ok)

	require.NoError(t, m.DeletePrefix(ctx, "perm:u1:"))
	_, ok, _ = m.Get(ctx, "perm:u1:account:update")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "perm:u2:account:read")
	assert.True(t, ok, "other users' entries must survive a user-scoped purge")
}

func TestMemoryFlush(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, m.Flush(ctx))
	assert.Equal(t, 0, m.Len())
}

func TestMemorySweep(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	current := time.Now()
	m.now = func() time.Time { return current }

	require.NoError(t, m.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, m.Set(ctx, "long", []byte("2"), time.Hour))

	current = current.Add(2 * time.Second)
	m.sweep()

	assert.Equal(t, 1, m.Len())
	_, ok, _ := m.Get(ctx, "long")
	assert.True(t, ok)
}
