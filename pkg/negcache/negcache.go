// Package negcache implements the negative-answer cache: NXDOMAIN and
// NODATA results keyed the same way as pkg/cache, TTLed from the SOA
// MINIMUM field per RFC 2308, plus speculative typo-variant entries seeded
// ahead of any real observation.
package negcache

import (
	"sync"
	"time"

	"vantage/pkg/cache"
	"vantage/pkg/logging"
	"vantage/pkg/telemetry"
	"vantage/pkg/wire"
)

const (
	// MinNegativeTTL and MaxNegativeTTL bound every negative entry's TTL,
	// regardless of what the SOA MINIMUM says.
	MinNegativeTTL = 30 * time.Second
	MaxNegativeTTL = time.Hour
)

// Origin tags how an entry came to exist.
type Origin int

const (
	Observed Origin = iota
	Speculative
)

func (o Origin) String() string {
	if o == Speculative {
		return "speculative"
	}
	return "observed"
}

// Entry is one cached negative result.
type Entry struct {
	Rcode      uint8 // RcodeNXDomain or RcodeSuccess-with-empty-answer (NODATA)
	TTL        time.Duration
	InsertedAt time.Time
	Origin     Origin
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) >= e.TTL
}

// Cache is the negative cache, a single map under one lock. It shares cache.Key so a single
// positive/negative lookup can be done back to back without re-hashing.
type Cache struct {
	mu      sync.RWMutex
	entries map[cache.Key]*Entry

	positive *cache.Cache // for mutual exclusion: admitting here evicts there
	logger   *logging.Logger
	metrics  *telemetry.Metrics
}

// New creates a Cache. positive may be nil if no mutual-exclusion wiring
// is needed (e.g. in tests).
func New(positive *cache.Cache, logger *logging.Logger, metrics *telemetry.Metrics) *Cache {
	return &Cache{
		entries:  make(map[cache.Key]*Entry),
		positive: positive,
		logger:   logger,
		metrics:  metrics,
	}
}

// Get returns the cached negative entry for key, if any and unexpired.
func (c *Cache) Get(key cache.Key) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e, true
}

// Admit stores a negative result for key, computing its TTL from the SOA
// MINIMUM found in the authority section of resp (or falling back to
// MinNegativeTTL if none is present), and evicts any positive entry for
// the same key so the two caches never disagree.
func (c *Cache) Admit(key cache.Key, resp *wire.Message, origin Origin) *Entry {
	ttl := soaMinimum(resp)

	e := &Entry{
		Rcode:      resp.Header.Rcode,
		TTL:        ttl,
		InsertedAt: time.Now(),
		Origin:     origin,
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	if c.positive != nil {
		c.positive.Evict(key)
	}
	if c.metrics != nil {
		c.metrics.RecordNegativeCacheAdmission(origin.String())
	}
	return e
}

// Evict removes key unconditionally, used when the positive cache admits
// a fresh answer for the same key.
func (c *Cache) Evict(key cache.Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear empties the cache and reports how many entries were removed, for
// the observability surface's cache-purge action.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cleared := len(c.entries)
	c.entries = make(map[cache.Key]*Entry)
	return cleared
}

// soaMinimum finds the first SOA record in resp.Ns and clamps its MINIMUM
// field to [MinNegativeTTL, MaxNegativeTTL]. Absent an SOA, the floor
// applies: callers would rather under-cache than mis-cache indefinitely.
func soaMinimum(resp *wire.Message) time.Duration {
	for _, rr := range resp.Ns {
		if soa, ok := rr.Data.(wire.SOA); ok {
			d := time.Duration(soa.Minimum) * time.Second
			return clamp(d)
		}
	}
	return MinNegativeTTL
}

func clamp(d time.Duration) time.Duration {
	if d < MinNegativeTTL {
		return MinNegativeTTL
	}
	if d > MaxNegativeTTL {
		return MaxNegativeTTL
	}
	return d
}

// Sweep removes expired entries. No background loop calls it; Get
// already ignores expired entries.
func (c *Cache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// Len reports the current entry count, for the observability surface.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
