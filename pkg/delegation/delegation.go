// Package delegation caches NS referrals keyed by zone cut, letting the
// recursive resolver skip straight to the known authoritative set for a
// zone instead of re-walking from the root on every query.
package delegation

import (
	"sync"
	"time"

	"vantage/pkg/wire"
)

// Referral is the authoritative server set for one zone cut.
type Referral struct {
	Zone       string
	Servers    []string // NS target hostnames
	Glue       map[string][]string // hostname -> resolved IPs, from additional-section glue
	InsertedAt time.Time
	TTL        time.Duration
}

func (r *Referral) expired(now time.Time) bool {
	return now.Sub(r.InsertedAt) >= r.TTL
}

// Cache maps zone names to their cached referral.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Referral
}

// New creates an empty delegation cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Referral)}
}

// Lookup walks zone upward from the full qname looking for the
// longest cached zone cut at or above it (e.g. for "www.a.b.example.com."
// it tries that name, then "a.b.example.com.", then "b.example.com.", and
// so on), returning the first unexpired match.
func (c *Cache) Lookup(qname string) (*Referral, bool) {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := wire.Canonical(qname)
	for {
		if r, ok := c.entries[name]; ok && !r.expired(now) {
			return r, true
		}
		cut := parentZone(name)
		if cut == name {
			return nil, false
		}
		name = cut
	}
}

// Admit stores a referral for zone, derived from an NS response: TTL
// comes from the referring NS record's TTL per RFC 1035 §4.3.2.
func (c *Cache) Admit(zone string, servers []string, glue map[string][]string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[wire.Canonical(zone)] = &Referral{
		Zone:       wire.Canonical(zone),
		Servers:    servers,
		Glue:       glue,
		InsertedAt: time.Now(),
		TTL:        ttl,
	}
}

// Sweep removes expired referrals.
func (c *Cache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for z, r := range c.entries {
		if r.expired(now) {
			delete(c.entries, z)
		}
	}
}

// Len reports the current entry count, for the observability surface.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// parentZone strips the left-most label from an FQDN, e.g.
// "a.b.example.com." -> "b.example.com.". The root zone's parent is
// itself, the recursion's base case.
func parentZone(fqdn string) string {
	if fqdn == "." || fqdn == "" {
		return "."
	}
	trimmed := fqdn
	if trimmed[len(trimmed)-1] == '.' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == '.' {
			return trimmed[i+1:] + "."
		}
	}
	return "."
}
