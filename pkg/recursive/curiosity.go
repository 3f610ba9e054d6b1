package recursive

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"vantage/pkg/wire"
)

const (
	// curiosityInterval bounds how often a background "random walk" probe
	// may fire, independent of query volume — the rate limit the spec
	// calls for so curiosity traffic never becomes a meaningful load.
	curiosityInterval = 30 * time.Second

	// curiosityChance is the probability, per referral that carries glue,
	// that one recently observed glue hostname gets a speculative resolve
	// instead of waiting for a real query to need it.
	curiosityChance = 0.05
)

// Curiosity remembers the last 256 glue hostnames seen in referrals and,
// now and then (at random, and at most once per curiosityInterval),
// resolves one of them chosen at random, to keep the RTT/delegation caches
// warm for names that may be queried soon. It does not check whether the
// chosen host already has a cached address.
type Curiosity struct {
	resolver *Resolver

	mu       sync.Mutex
	lastWalk time.Time
	seen     []string // bounded ring of recently observed glue hostnames

	walks uint64 // count of background resolves kicked off, for the observability surface
}

func newCuriosity(r *Resolver) *Curiosity {
	return &Curiosity{resolver: r}
}

// observe folds newly-seen glue hostnames into the curiosity tracker and,
// with low probability, kicks off a background resolve for one of them.
func (c *Curiosity) observe(glue map[string][]string) {
	if len(glue) == 0 {
		return
	}

	c.mu.Lock()
	for host := range glue {
		c.seen = append(c.seen, host)
		if len(c.seen) > 256 {
			c.seen = c.seen[len(c.seen)-256:]
		}
	}
	c.mu.Unlock()

	if rand.Float64() >= curiosityChance { //nolint:gosec // sampling, not security-sensitive
		return
	}
	c.mu.Lock()
	if time.Since(c.lastWalk) < curiosityInterval || len(c.seen) == 0 {
		c.mu.Unlock()
		return
	}
	host := c.seen[rand.Intn(len(c.seen))] //nolint:gosec // sampling
	c.lastWalk = time.Now()
	c.mu.Unlock()

	go c.walk(host)
}

// walk performs a best-effort background A lookup for host through the
// same iterative resolver, silently discarding the result beyond whatever
// caching side effects (delegation cache, RTT table) the resolve produces.
func (c *Curiosity) walk(host string) {
	atomic.AddUint64(&c.walks, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = c.resolver.Resolve(ctx, host, wire.TypeA)
}

// Walks returns the number of background curiosity resolves kicked off
// since startup.
func (c *Curiosity) Walks() uint64 {
	return atomic.LoadUint64(&c.walks)
}
