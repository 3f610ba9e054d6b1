// Package prefetch periodically refreshes cache entries that are close to
// expiry and still being actively queried, so popular names stay warm
// without waiting for a client to hit a miss.
package prefetch

import (
	"context"
	"time"

	"vantage/pkg/cache"
	"vantage/pkg/logging"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultNearFraction  = 0.1 // refresh once <10% of the effective TTL remains
	defaultMinHits       = 2   // only bother for names that have actually been asked for more than once
)

// Refresher performs the actual re-resolution of a name; it is the same
// code path the query engine uses for a cache miss, passed in to avoid an
// import cycle between prefetch and queryengine.
type Refresher interface {
	Refresh(ctx context.Context, key cache.Key) error
}

// Config configures the prefetch sweep.
type Config struct {
	Enabled       bool
	SweepInterval time.Duration
	NearFraction  float64
	MinHits       uint64
}

// Engine periodically sweeps the positive cache for near-expiry, popular
// entries and refreshes them in the background.
type Engine struct {
	cache     *cache.Cache
	refresher Refresher
	logger    *logging.Logger
	cfg       Config

	stop chan struct{}
	done chan struct{}
}

// New creates an Engine. Call Run to start the sweep loop.
func New(c *cache.Cache, refresher Refresher, logger *logging.Logger, cfg Config) *Engine {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.NearFraction <= 0 {
		cfg.NearFraction = defaultNearFraction
	}
	if cfg.MinHits == 0 {
		cfg.MinHits = defaultMinHits
	}
	return &Engine{
		cache:     c,
		refresher: refresher,
		logger:    logger,
		cfg:       cfg,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run starts the sweep loop; it blocks until ctx is cancelled or Close is
// called.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	if !e.cfg.Enabled {
		return
	}

	t := time.NewTicker(e.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-t.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	keys := e.cache.NearExpiry(e.cfg.NearFraction, e.cfg.MinHits)
	for _, k := range keys {
		e.cache.Pin(k)
		if err := e.refresher.Refresh(ctx, k); err != nil {
			// Silent failure: the stale-serving grace window covers this
			// name until the next sweep retries it.
			if e.logger != nil {
				e.logger.Debug("prefetch refresh failed", "key", k.Name, "error", err)
			}
		}
		e.cache.Unpin(k)
	}
}

// Close stops the sweep loop.
func (e *Engine) Close() error {
	close(e.stop)
	<-e.done
	return nil
}
