// Package forwarder implements the parallel upstream racer: a query is
// sent to every currently-trusted upstream at once, and the first valid
// response wins while its siblings are cancelled on a best-effort basis.
package forwarder

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"vantage/pkg/config"
	"vantage/pkg/logging"
	"vantage/pkg/trust"
	"vantage/pkg/wire"
)

// ErrNoUpstreams is returned when no upstream is currently trusted enough
// to query.
var ErrNoUpstreams = errors.New("forwarder: no trusted upstreams available")

// errBadRcode marks a syntactically valid response whose RCODE disqualifies
// it from winning the race (SERVFAIL, FORMERR, NOTIMP): it's scored as a
// failure and the race keeps going, per spec §4.6.
var errBadRcode = errors.New("forwarder: upstream returned non-winning rcode")

// acceptableRcode reports whether rcode is one the race may be decided by.
// NODATA has no distinct wire value — it's NOERROR with zero answers — so
// it's covered by RcodeSuccess.
func acceptableRcode(rcode uint8) bool {
	switch rcode {
	case wire.RcodeSuccess, wire.RcodeNXDomain, wire.RcodeRefused:
		return true
	default:
		return false
	}
}

// Forwarder races a query against every available upstream.
type Forwarder struct {
	upstreams []string
	scorer    *trust.Scorer
	logger    *logging.Logger
	timeout   time.Duration
}

// New creates a Forwarder over cfg's upstream list.
func New(cfg *config.ForwarderConfig, logger *logging.Logger) *Forwarder {
	upstreams := make([]string, len(cfg.Upstreams))
	for i, u := range cfg.Upstreams {
		if _, _, err := net.SplitHostPort(u); err != nil {
			upstreams[i] = net.JoinHostPort(u, "53")
		} else {
			upstreams[i] = u
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	f := &Forwarder{
		upstreams: upstreams,
		scorer:    trust.New(upstreams, logger),
		logger:    logger,
		timeout:   timeout,
	}

	logger.Info("forwarder initialized", "upstreams", upstreams, "timeout", timeout)
	return f
}

// result is one upstream's outcome, fed back onto a buffered channel so the
// first successful response can be picked without blocking on slower
// siblings.
type result struct {
	upstream string
	resp     *wire.Message
	rtt      time.Duration
	err      error
}

// Forward races req against every trusted upstream over UDP, returning the
// first valid response. A reply whose RCODE is not NOERROR, NXDOMAIN or
// REFUSED (SERVFAIL, for instance) counts as a loss just like a transport
// failure or timeout: it is scored as a trust failure and the race goes on
// among the remaining upstreams.
func (f *Forwarder) Forward(ctx context.Context, req *wire.Message) (*wire.Message, string, error) {
	candidates := f.scorer.Candidates()
	if len(candidates) == 0 {
		candidates = f.upstreams // degrade to "try everyone" rather than fail outright
	}
	if len(candidates) == 0 {
		return nil, "", ErrNoUpstreams
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ch := make(chan result, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for _, upstream := range candidates {
		upstream := upstream
		g.Go(func() error {
			resp, rtt, err := f.query(gctx, upstream, req)
			select {
			case ch <- result{upstream: upstream, resp: resp, rtt: rtt, err: err}:
			case <-gctx.Done():
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(ch)
	}()

	var lastErr error
	for i := 0; i < len(candidates); i++ {
		select {
		case r, ok := <-ch:
			if !ok {
				i = len(candidates)
				continue
			}
			if r.err != nil {
				f.scorer.Record(r.upstream, false, 0)
				lastErr = r.err
				continue
			}
			f.scorer.Record(r.upstream, true, r.rtt)
			return r.resp, r.upstream, nil
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = ErrNoUpstreams
	}
	return nil, "", lastErr
}

// query sends req to upstream over UDP and decodes the reply, falling back
// to TCP if the UDP reply is truncated.
func (f *Forwarder) query(ctx context.Context, upstream string, req *wire.Message) (*wire.Message, time.Duration, error) {
	raddr, err := net.ResolveUDPAddr("udp", upstream)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	buf, err := wire.Encode(req)
	if err != nil {
		return nil, 0, err
	}
	if _, err := conn.Write(buf); err != nil {
		return nil, 0, err
	}

	respBuf := make([]byte, 65535)
	n, err := conn.Read(respBuf)
	if err != nil {
		return nil, 0, err
	}
	rtt := time.Since(start)

	resp, err := wire.Decode(respBuf[:n])
	if err != nil {
		return nil, rtt, err
	}
	if resp.Header.TC {
		tcpResp, err := f.queryTCP(ctx, upstream, req)
		if err != nil {
			return nil, rtt, err
		}
		resp = tcpResp
	}
	if !acceptableRcode(resp.Header.Rcode) {
		return resp, rtt, errBadRcode
	}
	return resp, rtt, nil
}

// queryTCP is used when a UDP reply comes back truncated.
func (f *Forwarder) queryTCP(ctx context.Context, upstream string, req *wire.Message) (*wire.Message, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", upstream)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	buf, err := wire.Encode(req)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteTCP(conn, buf); err != nil {
		return nil, err
	}
	respBuf, err := wire.ReadTCP(conn)
	if err != nil {
		return nil, err
	}
	return wire.Decode(respBuf)
}

// Upstreams returns the configured upstream address list.
func (f *Forwarder) Upstreams() []string { return f.upstreams }

// Scorer exposes the trust scorer for the observability surface.
func (f *Forwarder) Scorer() *trust.Scorer { return f.scorer }
