package perf

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"genforge/internal/config"
	"genforge/internal/logging"
)

// =============================================================================
// INTELLIGENT CACHE
// =============================================================================
//
// Two-tier key/value result cache: a local in-process map plus an
// optional Redis tier. A Redis connection failure never fails a request;
// the cache logs one warning and degrades to local-only for the rest of
// the process.

// cacheEntry is one local-tier record.
type cacheEntry struct {
	value       []byte
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount int64
}

// CacheStats provides observability into cache behavior.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	HitRate     float64
	Entries     int
	MemoryBytes int64
	Degraded    bool // networked tier gave up
}

// IntelligentCache is the two-tier result cache.
type IntelligentCache struct {
	mu sync.Mutex

	entries     map[string]*cacheEntry
	memoryBytes int64
	maxMemory   int64
	defaultTTL  time.Duration

	rdb      *redis.Client // nil when the networked tier is disabled
	degraded bool

	hits      int64
	misses    int64
	evictions int64
}

// NewIntelligentCache builds the cache from config. A malformed Redis
// URL degrades to local-only immediately rather than failing startup.
func NewIntelligentCache(cfg config.CachingConfig, defaultTTL time.Duration) *IntelligentCache {
	c := &IntelligentCache{
		entries:    make(map[string]*cacheEntry),
		maxMemory:  cfg.MaxMemoryCache,
		defaultTTL: defaultTTL,
	}

	if cfg.RedisEnabled {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logging.Get(logging.CategoryCache).Warn("invalid redis url %q, running local-only: %v", cfg.RedisURL, err)
			c.degraded = true
		} else {
			c.rdb = redis.NewClient(opt)
			logging.Cache("IntelligentCache: networked tier enabled (%s)", opt.Addr)
		}
	}

	return c
}

// Get checks the local tier first, then the networked tier. A networked
// hit repopulates the local tier. Recency and hit/miss counters update
// on every access.
func (c *IntelligentCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.lastAccess = time.Now()
		entry.accessCount++
		c.hits++
		value := entry.value
		c.mu.Unlock()
		logging.CacheDebug("Get: local hit %s", key)
		return value, true
	}
	rdb := c.rdb
	degraded := c.degraded
	c.mu.Unlock()

	if rdb != nil && !degraded {
		value, err := rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			c.mu.Lock()
			c.hits++
			c.storeLocalLocked(key, value)
			c.mu.Unlock()
			logging.CacheDebug("Get: networked hit %s, repopulated local tier", key)
			return value, true
		case err == redis.Nil:
			// Clean miss in both tiers.
		default:
			c.degrade(err)
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Set writes to the local tier unconditionally and to the networked tier
// with the given TTL (ttl <= 0 uses the configured default).
func (c *IntelligentCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.storeLocalLocked(key, value)
	rdb := c.rdb
	degraded := c.degraded
	c.mu.Unlock()

	if rdb != nil && !degraded {
		if err := rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			c.degrade(err)
		}
	}
}

// storeLocalLocked inserts into the local map, evicting the oldest
// entries while the estimated footprint would exceed the bound.
// Footprint = sum over entries of key length + value length.
func (c *IntelligentCache) storeLocalLocked(key string, value []byte) {
	if existing, ok := c.entries[key]; ok {
		c.memoryBytes -= int64(len(key) + len(existing.value))
		delete(c.entries, key)
	}

	incoming := int64(len(key) + len(value))
	for c.maxMemory > 0 && c.memoryBytes+incoming > c.maxMemory && len(c.entries) > 0 {
		c.evictOldestLocked()
	}

	now := time.Now()
	c.entries[key] = &cacheEntry{value: value, insertedAt: now, lastAccess: now}
	c.memoryBytes += incoming
}

// evictOldestLocked removes the single entry with the oldest last-access
// timestamp. O(n) scan, acceptable at the sizes this cache targets.
func (c *IntelligentCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = entry.lastAccess
		}
	}
	if oldestKey == "" {
		return
	}
	c.memoryBytes -= int64(len(oldestKey) + len(c.entries[oldestKey].value))
	delete(c.entries, oldestKey)
	c.evictions++
	logging.CacheDebug("evict: %s (inserted %v)", oldestKey, oldest)
}

// degrade switches to local-only mode, logging the first failure once.
func (c *IntelligentCache) degrade(err error) {
	c.mu.Lock()
	already := c.degraded
	c.degraded = true
	c.mu.Unlock()

	if !already {
		logging.Get(logging.CategoryCache).Warn("networked cache tier unavailable, degrading to local-only: %v", err)
	}
}

// Clear empties the local map and flushes the networked tier if present.
func (c *IntelligentCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.memoryBytes = 0
	rdb := c.rdb
	degraded := c.degraded
	c.mu.Unlock()

	if rdb != nil && !degraded {
		if err := rdb.FlushDB(ctx).Err(); err != nil {
			c.degrade(err)
		}
	}
	logging.Cache("IntelligentCache: cleared")
}

// Stats returns current cache statistics. Hit rate is recomputed from
// the running counters.
func (c *IntelligentCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Entries:     len(c.entries),
		MemoryBytes: c.memoryBytes,
		Degraded:    c.degraded,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Close releases the networked-tier connection.
func (c *IntelligentCache) Close() error {
	c.mu.Lock()
	rdb := c.rdb
	c.rdb = nil
	c.mu.Unlock()

	if rdb != nil {
		return rdb.Close()
	}
	return nil
}
