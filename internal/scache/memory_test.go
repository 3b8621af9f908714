package scache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheLifecycle(t *testing.T) {
	m := NewMemoryCache(time.Hour)
	ctx := context.Background()

	_, ok := m.Lookup(ctx, "key")
	assert.False(t, ok)

	m.Save(ctx, "key", []byte("blob"))
	got, ok := m.Lookup(ctx, "key")
	require.True(t, ok)
	assert.Equal(t, []byte("blob"), got)
	assert.Equal(t, 1, m.Len())

	m.Delete(ctx, "key")
	_, ok = m.Lookup(ctx, "key")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryCacheExpiry(t *testing.T) {
	m := NewMemoryCache(time.Hour)
	current := time.Now()
	m.now = func() time.Time { return current }
	ctx := context.Background()

	m.Save(ctx, "key", []byte("blob"))

	current = current.Add(59 * time.Minute)
	_, ok := m.Lookup(ctx, "key")
	assert.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok = m.Lookup(ctx, "key")
	assert.False(t, ok, "expired session must not be reloaded")
}

func TestMemoryCacheCopiesBlobs(t *testing.T) {
	m := NewMemoryCache(0)
	ctx := context.Background()

	blob := []byte("blob")
	m.Save(ctx, "key", blob)
	blob[0] = 'X'

	got, ok := m.Lookup(ctx, "key")
	require.True(t, ok)
	assert.Equal(t, []byte("blob"), got, "caller mutations must not reach the cache")

	got[0] = 'Y'
	again, _ := m.Lookup(ctx, "key")
	assert.Equal(t, []byte("blob"), again)
}

func TestMemoryCachePolicy(t *testing.T) {
	m := NewMemoryCache(30 * time.Minute)

	policy, err := m.Policy(context.Background())
	require.NoError(t, err)
	assert.True(t, policy.ClientCachingEnabled)
	assert.Equal(t, 30*time.Minute, policy.Timeout)
}

func TestMemoryCacheIgnoresEmpty(t *testing.T) {
	m := NewMemoryCache(0)
	ctx := context.Background()

	m.Save(ctx, "", []byte("blob"))
	m.Save(ctx, "key", nil)
	m.Delete(ctx, "")

	assert.Equal(t, 0, m.Len())
}
