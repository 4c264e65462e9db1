package perf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/internal/config"
)

func newLocalCache(maxMemory int64) *IntelligentCache {
	return NewIntelligentCache(config.CachingConfig{
		RedisEnabled:   false,
		MaxMemoryCache: maxMemory,
	}, time.Hour)
}

func TestCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(1 << 20)
	defer c.Close()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "key", []byte(`{"rendered":true}`), 0)
	value, ok := c.Get(ctx, "key")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"rendered":true}`), value)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.Entries)
}

func TestCacheReplaceAdjustsFootprint(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(1 << 20)
	defer c.Close()

	c.Set(ctx, "k", make([]byte, 100), 0)
	c.Set(ctx, "k", make([]byte, 10), 0)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(len("k")+10), stats.MemoryBytes, "replacing a key must not double-count")
}

func TestCacheEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	// Each entry is 1 (key) + 30 (value) = 31 bytes; three fit under 100.
	c := newLocalCache(100)
	defer c.Close()

	c.Set(ctx, "a", make([]byte, 30), 0)
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "b", make([]byte, 30), 0)
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "c", make([]byte, 30), 0)
	time.Sleep(2 * time.Millisecond)

	// Touch "a" so "b" holds the oldest last-access time.
	_, ok := c.Get(ctx, "a")
	require.True(t, ok)
	time.Sleep(2 * time.Millisecond)

	c.Set(ctx, "d", make([]byte, 30), 0)

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry should have been evicted")
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok, "recently accessed entry must survive")
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "d")
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCacheOversizedValueEvictsEverything(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(50)
	defer c.Close()

	c.Set(ctx, "small", make([]byte, 10), 0)
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "huge", make([]byte, 200), 0)

	// The bound cannot hold the new value; older entries are gone and the
	// newest write always lands.
	_, ok := c.Get(ctx, "small")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "huge")
	assert.True(t, ok)
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	c := newLocalCache(1 << 20)
	defer c.Close()

	c.Set(ctx, "a", []byte("1"), 0)
	c.Set(ctx, "b", []byte("2"), 0)
	c.Clear(ctx)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(0), stats.MemoryBytes)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestCacheDegradesOnBadRedisURL(t *testing.T) {
	ctx := context.Background()
	c := NewIntelligentCache(config.CachingConfig{
		RedisEnabled:   true,
		RedisURL:       "not a url",
		MaxMemoryCache: 1 << 20,
	}, time.Hour)
	defer c.Close()

	assert.True(t, c.Stats().Degraded, "malformed redis url must degrade, not fail")

	// Local tier keeps working.
	c.Set(ctx, "k", []byte("v"), 0)
	value, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestCacheDegradesOnUnreachableRedis(t *testing.T) {
	ctx := context.Background()
	// Valid URL, nothing listening. The first networked miss flips the
	// cache to local-only instead of surfacing the error.
	c := NewIntelligentCache(config.CachingConfig{
		RedisEnabled:   true,
		RedisURL:       "redis://127.0.0.1:1",
		MaxMemoryCache: 1 << 20,
	}, time.Hour)
	defer c.Close()

	_, ok := c.Get(ctx, "anything")
	assert.False(t, ok)
	assert.True(t, c.Stats().Degraded)

	c.Set(ctx, "k", []byte("v"), 0)
	_, ok = c.Get(ctx, "k")
	assert.True(t, ok, "local tier must keep serving after degradation")
}
