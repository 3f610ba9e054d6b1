// Package cache implements the positive RR-set cache: a sharded
// concurrent map keyed by (name, type, class) holding fresh/stale/expired
// entries, with the TTL "alchemy" policy applied at admission and on
// every hit, and LFU-ish amortized eviction bounded by max_entries.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"vantage/pkg/logging"
	"vantage/pkg/telemetry"
	"vantage/pkg/wire"
)

// Lookup is the three-way result of a cache Get: Miss, Stale (within the
// serve-stale grace window), or Fresh.
type Lookup int

const (
	Miss Lookup = iota
	FreshHit
	StaleHit
)

// Config configures a Cache. ShardCount should be a power of two.
type Config struct {
	MaxEntries  int
	ShardCount  int
	ServeStale  bool
	StaleGrace  time.Duration
	Alchemy     AlchemyWeights
}

// Cache is the sharded positive cache described in spec.md §4.2.
type Cache struct {
	cfg     Config
	logger  *logging.Logger
	metrics *telemetry.Metrics
	shards  []*shard

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type shard struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
	evicts  uint64
}

// New creates a Cache. A zero StaleGrace defaults to
// cache.DefaultServeStaleGrace.
func New(cfg Config, logger *logging.Logger, metrics *telemetry.Metrics) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100_000
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 64
	}
	if cfg.StaleGrace <= 0 {
		cfg.StaleGrace = DefaultServeStaleGrace
	}

	c := &Cache{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		shards:      make([]*shard, cfg.ShardCount),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	perShard := cfg.MaxEntries / cfg.ShardCount
	if perShard < 8 {
		perShard = 8
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[Key]*Entry, perShard)}
	}

	go c.cleanupLoop()

	logger.Info("positive cache initialized",
		"max_entries", cfg.MaxEntries,
		"shards", cfg.ShardCount,
		"serve_stale", cfg.ServeStale,
		"stale_grace", cfg.StaleGrace)

	return c
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit()
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}
}

func (c *Cache) shardFor(k Key) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.string()))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get looks up key and, on a hit, returns a deep copy of the stored
// message so callers may freely mutate it (e.g. zeroing TTLs for a stale
// reply) without corrupting the cache.
func (c *Cache) Get(key Key) (Lookup, *wire.Message, *Entry) {
	sh := c.shardFor(key)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		c.recordMiss()
		return Miss, nil, nil
	}

	switch {
	case e.Fresh(now):
		e.recordHit(now)
		e.EffectiveTTL = alchemy(e.OriginalTTL, e.hitsPerHour(now), e.volatility(now), c.cfg.Alchemy)
		c.recordHit()
		return FreshHit, e.Msg.Clone(), e
	case c.cfg.ServeStale && e.Stale(now, c.cfg.StaleGrace):
		e.staleCount++
		e.LastAccess = now
		c.recordHit()
		return StaleHit, e.Msg.Clone(), e
	case e.Expired(now, c.cfg.StaleGrace):
		if !e.pinned {
			delete(sh.entries, key)
		}
		c.recordMiss()
		return Miss, nil, nil
	default:
		// Expired but outside serve-stale policy (disabled or grace elapsed
		// mid-check): treat as miss without evicting yet, a refresh will
		// replace it shortly.
		c.recordMiss()
		return Miss, nil, nil
	}
}

// Admit stores msg under key with originalTTL, replacing any previous
// entry unconditionally (including one currently pinned by an in-flight
// prefetch refresh — see SPEC_FULL.md's open-question decision on
// serve-stale vs. refresh-completion semantics).
func (c *Cache) Admit(key Key, msg *wire.Message, originalTTL time.Duration, provenance string) *Entry {
	sh := c.shardFor(key)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, existed := sh.entries[key]
	if !existed {
		e = &Entry{}
		if len(sh.entries) >= c.cfg.MaxEntries/len(c.shards) {
			c.evictLocked(sh)
		}
		sh.entries[key] = e
	}

	e.recordAdmission(now, msg)
	e.Msg = msg.Clone()
	e.OriginalTTL = originalTTL
	e.InsertedAt = now
	e.LastAccess = now
	e.Provenance = provenance
	e.EffectiveTTL = alchemy(originalTTL, e.hitsPerHour(now), e.volatility(now), c.cfg.Alchemy)

	if !existed && c.metrics != nil {
		c.metrics.RecordCacheSizeDelta(1)
	}
	return e
}

// Pin marks key's entry as being actively refreshed by prefetch so
// eviction skips it. Unpin clears the flag. Both are no-ops if the key
// isn't present.
func (c *Cache) Pin(key Key)   { c.setPinned(key, true) }
func (c *Cache) Unpin(key Key) { c.setPinned(key, false) }

func (c *Cache) setPinned(key Key, v bool) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok {
		e.pinned = v
	}
}

// Evict deletes key unconditionally, used when the negative cache admits
// an entry for the same key (positive/negative mutual exclusion).
func (c *Cache) Evict(key Key) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
}

// Clear empties every shard and reports how many entries were removed,
// for the observability surface's cache-purge action.
func (c *Cache) Clear() int {
	var cleared int
	for _, sh := range c.shards {
		sh.mu.Lock()
		cleared += len(sh.entries)
		sh.entries = make(map[Key]*Entry)
		sh.mu.Unlock()
	}
	if c.metrics != nil {
		c.metrics.RecordCacheSizeDelta(-cleared)
	}
	return cleared
}

// evictLocked removes the least-frequently-used ~1% of entries in sh,
// never removing a pinned entry. Called with sh.mu held for writing, on
// the admitting goroutine (amortized eviction, no separate task).
func (c *Cache) evictLocked(sh *shard) {
	n := len(sh.entries) / 100
	if n < 1 {
		n = 1
	}

	type candidate struct {
		key  Key
		hits uint64
		last time.Time
	}
	victims := make([]candidate, 0, n)

	for k, e := range sh.entries {
		if e.pinned {
			continue
		}
		cand := candidate{key: k, hits: e.hitCount, last: e.LastAccess}
		if len(victims) < n {
			victims = append(victims, cand)
			continue
		}
		// Replace the best-ranked (highest hits, or tied and newer) current
		// victim if cand is a worse (less useful) entry to keep.
		worstIdx := -1
		for i, v := range victims {
			if worstIdx < 0 || v.hits > victims[worstIdx].hits ||
				(v.hits == victims[worstIdx].hits && v.last.After(victims[worstIdx].last)) {
				worstIdx = i
			}
		}
		if worstIdx >= 0 && (cand.hits < victims[worstIdx].hits ||
			(cand.hits == victims[worstIdx].hits && cand.last.Before(victims[worstIdx].last))) {
			victims[worstIdx] = cand
		}
	}

	for _, v := range victims {
		delete(sh.entries, v.key)
		sh.evicts++
		if c.metrics != nil {
			c.metrics.RecordCacheSizeDelta(-1)
		}
	}
	c.logger.Debug("evicted cache entries", "count", len(victims))
}

func (c *Cache) cleanupLoop() {
	defer close(c.cleanupDone)
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.sweepExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	removed := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if !e.pinned && e.Expired(now, c.cfg.StaleGrace) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		c.logger.Debug("swept expired cache entries", "removed", removed)
	}
}

// Stats is a point-in-time snapshot of cache-wide statistics.
type Stats struct {
	Entries     int
	Evictions   uint64
	StaleServed uint64
}

// Stats aggregates per-shard counters.
func (c *Cache) Stats() Stats {
	var s Stats
	for _, sh := range c.shards {
		sh.mu.RLock()
		s.Entries += len(sh.entries)
		s.Evictions += sh.evicts
		for _, e := range sh.entries {
			s.StaleServed += e.staleCount
		}
		sh.mu.RUnlock()
	}
	return s
}

// Snapshot returns a shallow copy of every live entry, keyed, for the
// observability HTTP surface.
func (c *Cache) Snapshot() map[Key]Entry {
	out := make(map[Key]Entry)
	for _, sh := range c.shards {
		sh.mu.RLock()
		for k, e := range sh.entries {
			out[k] = *e
		}
		sh.mu.RUnlock()
	}
	return out
}

// NearExpiry returns keys whose remaining fresh time is below frac of
// their effective TTL and whose hit count is at or above minHits — the
// candidate set the prefetch engine sweeps.
func (c *Cache) NearExpiry(frac float64, minHits uint64) []Key {
	now := time.Now()
	var keys []Key
	for _, sh := range c.shards {
		sh.mu.RLock()
		for k, e := range sh.entries {
			if e.hitCount < minHits {
				continue
			}
			remaining := e.EffectiveTTL - now.Sub(e.InsertedAt)
			if remaining > 0 && float64(remaining) < frac*float64(e.EffectiveTTL) {
				keys = append(keys, k)
			}
		}
		sh.mu.RUnlock()
	}
	return keys
}

// Close stops the background cleanup loop.
func (c *Cache) Close() error {
	close(c.stopCleanup)
	<-c.cleanupDone
	return nil
}
