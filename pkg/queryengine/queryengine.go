// Package queryengine orchestrates a single client query end to end:
// chaos gate, negative-cache lookup, positive-cache lookup, and on a
// miss either the upstream forwarder race or iterative recursive
// resolution, admitting the result back into both caches and emitting a
// journal entry with the commentary engine's cosmetic remark attached.
// Concurrent requests for the same (name, type, class) are coalesced so
// at most one resolution is outstanding per key at any instant.
package queryengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vantage/pkg/cache"
	"vantage/pkg/chaos"
	"vantage/pkg/commentary"
	"vantage/pkg/config"
	"vantage/pkg/forwarder"
	"vantage/pkg/journal"
	"vantage/pkg/logging"
	"vantage/pkg/negcache"
	"vantage/pkg/recursive"
	"vantage/pkg/storage"
	"vantage/pkg/telemetry"
	"vantage/pkg/wire"
)

// Config selects which resolution strategy the engine prefers on a miss
// and how aggressively the negative cache speculates.
type Config struct {
	PreferRecursive    bool
	SpeculativeSeeding bool
	MaxVariants        int
}

func configFrom(recCfg config.RecursiveConfig, negCfg config.NegCacheConfig) Config {
	return Config{
		PreferRecursive:    recCfg.Enabled,
		SpeculativeSeeding: negCfg.SpeculativeSeeding,
		MaxVariants:        negCfg.MaxVariants,
	}
}

// Engine ties every core package together behind a single Execute call.
type Engine struct {
	cfg Config

	cache      *cache.Cache
	neg        *negcache.Cache
	gate       *chaos.Gate
	forwarder  *forwarder.Forwarder
	recursive  *recursive.Resolver
	commentary *commentary.Engine
	journal    *journal.Journal
	logger     *logging.Logger
	metrics    *telemetry.Metrics

	mu       sync.Mutex
	inflight map[cache.Key]*inflightCall
}

// inflightCall is the single-resolution-per-key coalescing primitive: the
// first arriver for a key owns the *inflightCall and runs the actual
// resolution; every later arrival for the same key just waits on done.
type inflightCall struct {
	done       chan struct{}
	resp       *wire.Message
	provenance string
	rtt        time.Duration
	err        error
}

// New creates an Engine. recCfg/negCfg mirror the matching config
// sections; forwarder, recursiveResolver, commentaryEngine, and j may be
// nil in tests that only exercise the cache/chaos path.
func New(
	recCfg config.RecursiveConfig,
	negCfg config.NegCacheConfig,
	posCache *cache.Cache,
	negCache *negcache.Cache,
	gate *chaos.Gate,
	fwd *forwarder.Forwarder,
	recursiveResolver *recursive.Resolver,
	commentaryEngine *commentary.Engine,
	j *journal.Journal,
	logger *logging.Logger,
	metrics *telemetry.Metrics,
) *Engine {
	if logger == nil {
		logger = &logging.Logger{}
	}
	return &Engine{
		cfg:        configFrom(recCfg, negCfg),
		cache:      posCache,
		neg:        negCache,
		gate:       gate,
		forwarder:  fwd,
		recursive:  recursiveResolver,
		commentary: commentaryEngine,
		journal:    j,
		logger:     logger,
		metrics:    metrics,
		inflight:   make(map[cache.Key]*inflightCall),
	}
}

// Execute resolves one already-decoded client query and returns the reply
// to encode back to the wire. clientIP is used only for the journal and
// commentary/observability surface, never for resolution decisions.
func (e *Engine) Execute(ctx context.Context, clientIP string, req *wire.Message) *wire.Message {
	start := time.Now()

	if len(req.Question) == 0 {
		return wire.Reply(req, wire.RcodeFormErr)
	}
	q := req.Question[0]
	key := cache.NewKey(q.Name, q.Type, q.Class)

	var trace []storage.ResolutionTraceEntry
	record := func(stage, action, rule, source string) {
		trace = append(trace, storage.ResolutionTraceEntry{Stage: stage, Action: action, Rule: rule, Source: source})
	}

	if e.gate != nil && e.gate.Reject() {
		record("chaos", "inject", "", "")
		e.metrics.RecordChaosInjection()
		resp := wire.Reply(req, wire.RcodeServFail)
		e.finish(ctx, clientIP, q, start, resp, "chaos", false, trace)
		return resp
	}
	record("chaos", "pass", "", "")

	if e.neg != nil {
		if entry, ok := e.neg.Get(key); ok {
			record("negcache", "hit", "", entry.Origin.String())
			resp := wire.Reply(req, entry.Rcode)
			if entry.Origin == negcache.Speculative {
				go e.verifySpeculative(key, req)
			}
			e.finish(ctx, clientIP, q, start, resp, "negcache", false, trace)
			return resp
		}
		record("negcache", "miss", "", "")
	}

	if e.cache != nil {
		lookup, msg, entry := e.cache.Get(key)
		switch lookup {
		case cache.FreshHit:
			record("poscache", "hit", "", "fresh")
			e.finish(ctx, clientIP, q, start, msg, entry.Provenance, true, trace)
			return msg
		case cache.StaleHit:
			record("poscache", "hit", "", "stale")
			go e.refreshStale(key, req)
			msg.SetAllTTL(0)
			e.finish(ctx, clientIP, q, start, msg, entry.Provenance, true, trace)
			return msg
		default:
			record("poscache", "miss", "", "")
		}
	}

	resp, provenance, _, err := e.resolveCoalesced(ctx, key, req)
	if err != nil {
		record("resolve", "fail", "", provenance)
		resp = wire.Reply(req, wire.RcodeServFail)
		e.finish(ctx, clientIP, q, start, resp, provenance, false, trace)
		return resp
	}
	record("resolve", "answer", "", provenance)

	e.admit(key, req, resp, provenance)

	e.finish(ctx, clientIP, q, start, resp, provenance, false, trace)
	return resp
}

// resolveCoalesced runs the forward-or-recurse resolution for key,
// attaching late arrivers for the same key to the first caller's result
// rather than issuing a second outstanding resolution.
func (e *Engine) resolveCoalesced(ctx context.Context, key cache.Key, req *wire.Message) (*wire.Message, string, time.Duration, error) {
	e.mu.Lock()
	if call, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		<-call.done
		return call.resp, call.provenance, call.rtt, call.err
	}

	call := &inflightCall{done: make(chan struct{})}
	e.inflight[key] = call
	e.mu.Unlock()

	call.resp, call.provenance, call.rtt, call.err = e.resolve(ctx, req)

	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
	close(call.done)

	return call.resp, call.provenance, call.rtt, call.err
}

// resolve performs the actual cache-miss resolution: recursive walk if
// configured to prefer it (falling back to forwarding on failure), else a
// forward race.
func (e *Engine) resolve(ctx context.Context, req *wire.Message) (*wire.Message, string, time.Duration, error) {
	q := req.Question[0]
	started := time.Now()

	if e.cfg.PreferRecursive && e.recursive != nil {
		resp, err := e.recursive.Resolve(ctx, q.Name, q.Type)
		if err == nil {
			e.metrics.RecordRecursiveQuery(len(resp.Ns))
			return resp, "recursive", time.Since(started), nil
		}
		e.logger.Warn("queryengine: recursive resolution failed, falling back to forwarder", "error", err, "domain", q.Name)
	}

	if e.forwarder != nil {
		resp, upstream, err := e.forwarder.Forward(ctx, req)
		e.metrics.RecordForward(err == nil)
		if err == nil {
			return resp, upstream, time.Since(started), nil
		}
		return nil, upstream, time.Since(started), fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	return nil, "", time.Since(started), ErrResolutionFailed
}

// admit folds a resolved answer back into the positive or negative cache
// depending on its response code, and seeds speculative negative entries
// for a freshly observed NXDOMAIN when enabled.
func (e *Engine) admit(key cache.Key, req, resp *wire.Message, provenance string) {
	q := req.Question[0]

	switch resp.Header.Rcode {
	case wire.RcodeSuccess:
		if len(resp.Answer) == 0 {
			if e.neg != nil {
				e.neg.Admit(key, resp, negcache.Observed)
			}
			return
		}
		if e.cache != nil {
			e.cache.Admit(key, resp, time.Duration(resp.MinAnswerTTL())*time.Second, provenance)
		}
	case wire.RcodeNXDomain:
		if e.neg == nil {
			return
		}
		e.neg.Admit(key, resp, negcache.Observed)
		if e.cfg.SpeculativeSeeding {
			e.neg.SeedSpeculative(q.Name, q.Type, q.Class, resp)
		}
	}
}

// refreshStale re-resolves key in the background after a stale answer was
// already served to the client, an unconditional replace of whatever the
// refresh finds (see SPEC_FULL.md's open-question decision on
// serve-stale vs. in-flight-refresh interaction).
func (e *Engine) refreshStale(key cache.Key, req *wire.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if e.cache != nil {
		e.cache.Pin(key)
		defer e.cache.Unpin(key)
	}

	resp, provenance, _, err := e.resolveCoalesced(ctx, key, req)
	if err != nil {
		e.logger.Warn("queryengine: stale refresh failed", "error", err, "domain", req.Question[0].Name)
		return
	}
	e.admit(key, req, resp, provenance)
}

// verifySpeculative re-resolves a name that was answered from a
// speculative negative-cache entry, confirming or evicting the guess once
// a real upstream has weighed in.
func (e *Engine) verifySpeculative(key cache.Key, req *wire.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, provenance, _, err := e.resolveCoalesced(ctx, key, req)
	if err != nil {
		return
	}
	if resp.Header.Rcode == wire.RcodeSuccess && len(resp.Answer) > 0 {
		// The speculative guess was wrong: a real answer exists. Evict the
		// negative entry and admit the real one.
		e.neg.Evict(key)
		e.admit(key, req, resp, provenance)
		return
	}
	// Confirmed: replace the speculative entry with an observed one so it
	// no longer carries the shortened speculative TTL.
	e.neg.Admit(key, resp, negcache.Observed)
}

// Refresh implements prefetch.Refresher: it re-resolves key using the
// same cache-miss path a live query would take, for the prefetch engine's
// background sweep of near-expiry popular entries.
func (e *Engine) Refresh(ctx context.Context, key cache.Key) error {
	req := wire.NewQuery(1, key.Name, key.Type)
	req.Question[0].Class = key.Class

	resp, provenance, _, err := e.resolveCoalesced(ctx, key, req)
	if err != nil {
		return err
	}
	e.admit(key, req, resp, provenance)
	return nil
}

// finish records the commentary remark and journal entry for a completed
// query. Never affects the reply already returned to the client.
func (e *Engine) finish(ctx context.Context, clientIP string, q wire.Question, start time.Time, resp *wire.Message, provenance string, cached bool, trace []storage.ResolutionTraceEntry) {
	elapsed := time.Since(start)
	e.metrics.RecordQuery(q.Type.String(), elapsed)

	var remark string
	if e.commentary != nil {
		lookup := "miss"
		if cached {
			lookup = "hit"
			if len(trace) > 0 && trace[len(trace)-1].Source == "stale" {
				lookup = "stale"
			}
		}
		speculative := provenance == "negcache" && len(trace) > 0 && trace[len(trace)-1].Source == "speculative"
		remark = e.commentary.Remark(commentary.ContextFromOutcome(
			q.Name, q.Type.String(), wire.RcodeName(resp.Header.Rcode), lookup, provenance,
			elapsed, speculative, len(resp.Answer),
		))
	}

	if e.journal != nil {
		e.journal.Record(ctx, &storage.QueryLog{
			ClientIP:       clientIP,
			Domain:         q.Name,
			QueryType:      q.Type.String(),
			ResponseCode:   int(resp.Header.Rcode),
			ChaosInjected:  provenance == "chaos",
			Cached:         cached,
			ResponseTimeMs: elapsed.Milliseconds(),
			Upstream:       provenance,
			Remark:         remark,
			Trace:          trace,
		})
	}
}
