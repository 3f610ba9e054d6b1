// Package recursive implements iterative resolution from the root: for
// names not answered by a forward upstream (or when recursion is
// preferred), it walks zone cuts from a set of root hints down to an
// authoritative answer, selecting among in-band servers by RTT, short
// circuiting through the delegation cache. A walk that cannot make
// progress returns an error; falling back to the forwarder is left to the
// query engine.
package recursive

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"vantage/pkg/cache"
	"vantage/pkg/delegation"
	"vantage/pkg/infra"
	"vantage/pkg/logging"
	"vantage/pkg/wire"
)

// opportunisticTTL bounds how long a glue-promoted cache entry lives
// before it must be re-verified, independent of whatever TTL the
// referring NS record carried: glue is never authoritative for the name
// it addresses.
const opportunisticTTL = 5 * time.Minute

const (
	// MaxDepth bounds zone-cut hops, the loop-protection backstop.
	MaxDepth = 20

	queryTimeout = 2 * time.Second
)

var (
	ErrMaxDepthExceeded = errors.New("recursive: maximum resolution depth exceeded")
	ErrNoCandidates     = errors.New("recursive: no authoritative servers available for zone")
	ErrLoopDetected     = errors.New("recursive: delegation loop detected")
)

// Resolver performs iterative resolution.
type Resolver struct {
	rootHints  []string
	delegation *delegation.Cache
	rtt        *infra.RTTTable
	pool       *infra.SocketPool
	logger     *logging.Logger
	curiosity  *Curiosity
	posCache   *cache.Cache
}

// Config configures a Resolver.
type Config struct {
	RootHints []string
	// Cache, when set, receives glue A/AAAA records observed in referrals,
	// admitted with "opportunistic" provenance so a later query for one of
	// those names can skip straight to a cache hit. Optional: a nil cache
	// simply means referrals are never glue-promoted.
	Cache *cache.Cache
}

// New creates a Resolver. RootHints should be the well-known root server
// addresses; see root.go for the built-in default set and warm-up probe.
func New(cfg Config, logger *logging.Logger) *Resolver {
	r := &Resolver{
		rootHints:  cfg.RootHints,
		delegation: delegation.New(),
		rtt:        infra.NewRTTTable(),
		pool:       infra.NewSocketPool(),
		logger:     logger,
		posCache:   cfg.Cache,
	}
	r.curiosity = newCuriosity(r)
	return r
}

// Resolve performs iterative resolution of (qname, qtype), starting from
// the delegation cache if a cut is already known, else from the root
// hints.
func (r *Resolver) Resolve(ctx context.Context, qname string, qtype wire.RRType) (*wire.Message, error) {
	qname = wire.Canonical(qname)

	servers := r.rootHints
	var glue map[string][]string
	visitedZones := make(map[string]bool)

	if ref, ok := r.delegation.Lookup(qname); ok {
		servers = ref.Servers
		glue = ref.Glue
		visitedZones[ref.Zone] = true
	}

	for depth := 0; depth < MaxDepth; depth++ {
		candidates := r.resolveServerAddrs(ctx, servers, glue)
		if len(candidates) == 0 {
			return nil, ErrNoCandidates
		}

		band := r.rtt.Band(candidates)
		if len(band) == 0 {
			band = candidates
		}
		chosen := band[rand.Intn(len(band))] //nolint:gosec // selection, not security-sensitive

		resp, err := r.query(ctx, chosen, qname, qtype)
		if err != nil {
			r.rtt.Fail(chosen)
			// Try every other in-band candidate before giving up this depth.
			resp, chosen, err = r.raceRemaining(ctx, band, chosen, qname, qtype)
			if err != nil {
				return nil, err
			}
		}

		if len(resp.Answer) > 0 || isAuthoritativeNegative(resp) {
			return resp, nil
		}

		// A referral: follow the NS records in the authority section.
		zone, nsNames, refGlue := parseReferral(resp)
		if zone == "" || len(nsNames) == 0 {
			return resp, nil // nothing more to follow; return what we have
		}
		if visitedZones[zone] {
			return nil, ErrLoopDetected
		}
		visitedZones[zone] = true

		ttl := referralTTL(resp)
		r.delegation.Admit(zone, nsNames, refGlue, ttl)
		r.curiosity.observe(refGlue)
		r.admitGlue(refGlue)

		servers = nsNames
		glue = refGlue
	}

	return nil, ErrMaxDepthExceeded
}

// raceRemaining tries the rest of an RTT band in parallel after the
// initially-chosen server failed, per the spec's "parallel branch
// exploration with cancellation" behavior: the first success cancels the
// others.
func (r *Resolver) raceRemaining(ctx context.Context, band []string, failed, qname string, qtype wire.RRType) (*wire.Message, string, error) {
	var remaining []string
	for _, s := range band {
		if s != failed {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		return nil, "", ErrNoCandidates
	}

	type outcome struct {
		resp   *wire.Message
		server string
		err    error
	}
	ch := make(chan outcome, len(remaining))
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)
	for _, s := range remaining {
		s := s
		g.Go(func() error {
			resp, err := r.query(gctx, s, qname, qtype)
			if err != nil {
				r.rtt.Fail(s)
			}
			select {
			case ch <- outcome{resp: resp, server: s, err: err}:
			case <-gctx.Done():
			}
			return nil
		})
	}
	go func() { _ = g.Wait(); close(ch) }()

	var lastErr error
	for o := range ch {
		if o.err == nil {
			cancel()
			return o.resp, o.server, nil
		}
		lastErr = o.err
	}
	if lastErr == nil {
		lastErr = ErrNoCandidates
	}
	return nil, "", lastErr
}

// glueLookupKey marks a context as already being inside a glueless-NS
// lookup, so resolveServerAddrs never nests more than one level deep.
type glueLookupKey struct{}

// resolveServerAddrs turns NS hostnames into dialable addresses, using
// (in order) literal IPs, literal host:port strings, glue addresses from
// the current referral (or delegation-cache hit), and finally a bounded
// A lookup through the resolver itself for NS names with no glue at all.
func (r *Resolver) resolveServerAddrs(ctx context.Context, servers []string, glue map[string][]string) []string {
	var addrs []string
	for _, s := range servers {
		if ip := net.ParseIP(s); ip != nil {
			addrs = append(addrs, net.JoinHostPort(s, "53"))
			continue
		}
		if _, _, err := net.SplitHostPort(s); err == nil {
			addrs = append(addrs, s)
			continue
		}

		name := wire.Canonical(s)
		if ips, ok := glue[name]; ok {
			for _, ip := range ips {
				addrs = append(addrs, net.JoinHostPort(ip, "53"))
			}
			continue
		}

		if ip, ok := r.lookupGlueless(ctx, name); ok {
			addrs = append(addrs, net.JoinHostPort(ip, "53"))
		}
	}
	return addrs
}

// lookupGlueless resolves a bare NS hostname that arrived with no glue,
// by running it through this same resolver from the top (root hints or
// delegation cache, exactly like the curiosity walker does). The context
// marker caps this at one level of nesting: a glueless lookup performed
// on behalf of another glueless lookup gives up rather than recursing
// indefinitely against a misconfigured zone.
func (r *Resolver) lookupGlueless(ctx context.Context, host string) (string, bool) {
	if ctx.Value(glueLookupKey{}) != nil {
		return "", false
	}

	lookupCtx, cancel := context.WithTimeout(context.WithValue(ctx, glueLookupKey{}, true), queryTimeout)
	defer cancel()

	resp, err := r.Resolve(lookupCtx, host, wire.TypeA)
	if err != nil {
		return "", false
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.Data.(wire.A); ok {
			return a.IP.String(), true
		}
	}
	return "", false
}

// admitGlue promotes glue A/AAAA records observed in a referral into the
// positive cache with "opportunistic" provenance, so a later query for
// one of these names can skip straight to a hit instead of walking the
// zone cut again. No-op when the resolver was built without a cache
// handle.
func (r *Resolver) admitGlue(glue map[string][]string) {
	if r.posCache == nil {
		return
	}
	for host, addrs := range glue {
		name := wire.Canonical(host)
		var aIPs, aaaaIPs []net.IP
		for _, s := range addrs {
			ip := net.ParseIP(s)
			if ip == nil {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				aIPs = append(aIPs, v4)
			} else {
				aaaaIPs = append(aaaaIPs, ip)
			}
		}
		if len(aIPs) > 0 {
			r.admitGlueRecords(name, wire.TypeA, aIPs)
		}
		if len(aaaaIPs) > 0 {
			r.admitGlueRecords(name, wire.TypeAAAA, aaaaIPs)
		}
	}
}

func (r *Resolver) admitGlueRecords(name string, qtype wire.RRType, ips []net.IP) {
	msg := &wire.Message{
		Header:   wire.Header{QR: true, RA: true, Rcode: wire.RcodeSuccess},
		Question: []wire.Question{{Name: name, Type: qtype, Class: wire.ClassINET}},
	}
	ttl := uint32(opportunisticTTL / time.Second)
	for _, ip := range ips {
		var data wire.RData
		if qtype == wire.TypeAAAA {
			data = wire.AAAA{IP: ip}
		} else {
			data = wire.A{IP: ip}
		}
		msg.Answer = append(msg.Answer, wire.RR{Name: name, Type: qtype, Class: wire.ClassINET, TTL: ttl, Data: data})
	}
	msg.Finalize()

	key := cache.NewKey(name, qtype, wire.ClassINET)
	r.posCache.Admit(key, msg, opportunisticTTL, "opportunistic")
}

func (r *Resolver) query(ctx context.Context, addr, qname string, qtype wire.RRType) (*wire.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	req := wire.NewQuery(uint16(rand.Intn(1<<16)), qname, qtype) //nolint:gosec // DNS ID, not a cryptographic nonce
	req.Header.RD = false
	req.Finalize()

	conn, err := r.pool.Get(addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	buf, err := wire.Encode(req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if _, err := conn.Write(buf); err != nil {
		r.pool.Discard(addr)
		return nil, err
	}

	respBuf := make([]byte, 65535)
	n, err := conn.Read(respBuf)
	if err != nil {
		r.pool.Discard(addr)
		return nil, err
	}
	r.rtt.Update(addr, time.Since(start))

	return wire.Decode(respBuf[:n])
}

func isAuthoritativeNegative(resp *wire.Message) bool {
	return resp.Header.Rcode == wire.RcodeNXDomain || (resp.Header.AA && len(resp.Answer) == 0)
}

// parseReferral extracts the delegated zone name, NS target hostnames, and
// any glue addresses from a referral response's authority/additional
// sections.
func parseReferral(resp *wire.Message) (zone string, nsNames []string, glue map[string][]string) {
	glue = make(map[string][]string)
	for _, rr := range resp.Ns {
		if ns, ok := rr.Data.(wire.NS); ok {
			zone = rr.Name
			nsNames = append(nsNames, ns.Host)
		}
	}
	for _, rr := range resp.Extra {
		switch d := rr.Data.(type) {
		case wire.A:
			glue[rr.Name] = append(glue[rr.Name], d.IP.String())
		case wire.AAAA:
			glue[rr.Name] = append(glue[rr.Name], d.IP.String())
		}
	}
	return zone, nsNames, glue
}

func referralTTL(resp *wire.Message) time.Duration {
	for _, rr := range resp.Ns {
		if _, ok := rr.Data.(wire.NS); ok {
			return time.Duration(rr.TTL) * time.Second
		}
	}
	return time.Hour
}

// Close releases pooled sockets.
func (r *Resolver) Close() error {
	return r.pool.Close()
}

// CuriosityWalks returns the number of background glue-hostname resolves
// the curiosity tracker has kicked off since startup.
func (r *Resolver) CuriosityWalks() uint64 {
	return r.curiosity.Walks()
}
