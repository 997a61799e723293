// Package cache provides the TTL key-value store behind permission check
// caching and the cache plugin's shared service. Two backends exist: an
// in-process map (default) and Redis for multi-instance deployments.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache is a byte-valued TTL store. Values are opaque; callers serialize.
type Cache interface {
	// Get returns the value and true when the key exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value. A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every key under a prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Flush removes everything.
	Flush(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Memory is the in-process backend. Expired entries are dropped lazily on
// read and swept by a janitor goroutine.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewMemory creates an in-process cache. sweepInterval <= 0 disables the
// janitor; lazy expiry still applies.
func NewMemory(sweepInterval time.Duration) *Memory {
	m := &Memory{
		items: make(map[string]memoryItem),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if sweepInterval > 0 {
		go m.janitor(sweepInterval)
	}
	return m
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	now := m.now()
	m.mu.Lock()
	for key, item := range m.items {
		if item.expired(now) {
			delete(m.items, key)
		}
	}
	m.mu.Unlock()
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if item.expired(m.now()) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return item.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.items, key)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Flush(ctx context.Context) error {
	m.mu.Lock()
	m.items = make(map[string]memoryItem)
	m.mu.Unlock()
	return nil
}

// Len counts live entries. Diagnostic use.
func (m *Memory) Len() int {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, item := range m.items {
		if !item.expired(now) {
			n++
		}
	}
	return n
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}
