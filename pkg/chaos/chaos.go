// Package chaos implements the probabilistic SERVFAIL injection gate used
// for failure-path testing: a configurable fraction of queries are failed
// before any cache, forwarding, or recursion logic runs, and without
// touching cache state.
package chaos

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// Config configures the gate.
type Config struct {
	Enabled bool
	// Fraction is the probability, in [0,1], that a query is rejected.
	Fraction float64
}

// Gate is the chaos injector. Safe for concurrent use.
type Gate struct {
	mu      sync.RWMutex
	cfg     Config
	rng     *rand.Rand
	rngMu   sync.Mutex
	injected atomic.Uint64
	total    atomic.Uint64
}

// New creates a Gate from cfg.
func New(cfg Config) *Gate {
	return &Gate{cfg: cfg, rng: rand.New(rand.NewSource(1))} //nolint:gosec // not security-sensitive, just sampling
}

// Reject reports whether this query should be failed with SERVFAIL before
// any further processing.
func (g *Gate) Reject() bool {
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()

	g.total.Add(1)
	if !cfg.Enabled || cfg.Fraction <= 0 {
		return false
	}

	g.rngMu.Lock()
	roll := g.rng.Float64()
	g.rngMu.Unlock()

	if roll < cfg.Fraction {
		g.injected.Add(1)
		return true
	}
	return false
}

// SetConfig swaps the gate's configuration, used on config hot-reload.
func (g *Gate) SetConfig(cfg Config) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

// Stats reports how many queries have been seen and how many injected.
func (g *Gate) Stats() (total, injected uint64) {
	return g.total.Load(), g.injected.Load()
}
