package scache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache implementation. It backs single-process
// deployments without a cache daemon and the test suite.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	policy  Policy
	now     func() time.Time
}

type memoryEntry struct {
	blob    []byte
	expires time.Time
}

// NewMemoryCache creates a memory cache whose entries expire after timeout.
// A zero timeout keeps entries until deleted.
func NewMemoryCache(timeout time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		policy: Policy{
			ClientCachingEnabled: true,
			Timeout:              timeout,
		},
		now: time.Now,
	}
}

// Lookup returns the blob stored under key, honouring expiry.
func (m *MemoryCache) Lookup(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expires.IsZero() && m.now().After(entry.expires) {
		return nil, false
	}
	blob := make([]byte, len(entry.blob))
	copy(blob, entry.blob)
	return blob, true
}

// Save stores blob under key.
func (m *MemoryCache) Save(_ context.Context, key string, blob []byte) {
	if key == "" || len(blob) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{blob: make([]byte, len(blob))}
	copy(entry.blob, blob)
	if m.policy.Timeout > 0 {
		entry.expires = m.now().Add(m.policy.Timeout)
	}
	m.entries[key] = entry
}

// Delete removes the entry for key.
func (m *MemoryCache) Delete(_ context.Context, key string) {
	if key == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Policy reports client caching as enabled.
func (m *MemoryCache) Policy(_ context.Context) (Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy, nil
}

// Len reports the number of live entries.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Cache = (*MemoryCache)(nil)
