package recursive

import (
	"context"
	"net"
	"time"

	"vantage/pkg/wire"
)

// DefaultRootHints is the IANA root server address set, used when the
// configuration doesn't override it.
var DefaultRootHints = []string{
	"198.41.0.4:53",      // a.root-servers.net
	"199.9.14.201:53",    // b.root-servers.net
	"192.33.4.12:53",     // c.root-servers.net
	"199.7.91.13:53",     // d.root-servers.net
	"192.203.230.10:53",  // e.root-servers.net
	"192.5.5.241:53",     // f.root-servers.net
	"192.112.36.4:53",    // g.root-servers.net
	"198.97.190.53:53",   // h.root-servers.net
	"192.36.148.17:53",   // i.root-servers.net
	"192.58.128.30:53",   // j.root-servers.net
	"193.0.14.129:53",    // k.root-servers.net
	"199.7.83.42:53",     // l.root-servers.net
	"202.12.27.33:53",    // m.root-servers.net
}

// WarmUp probes every root hint with a throwaway query so their RTT
// estimates are primed before the first real query arrives, instead of
// every cold server defaulting to the conservative max RTO.
func (r *Resolver) WarmUp(ctx context.Context) {
	for _, addr := range r.rootHints {
		go func(addr string) {
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			_, _ = r.query(wctx, addr, ".", wire.TypeNS)
		}(addr)
	}
}

// resolveBootstrapHints turns any bare hostnames in hints into dialable
// addresses using the system resolver, dropping any it cannot resolve.
// Nothing in the package calls it; root hints are used as given.
func resolveBootstrapHints(ctx context.Context, hints []string) []string {
	out := make([]string, 0, len(hints))
	for _, h := range hints {
		if ip, _, err := net.SplitHostPort(h); err == nil && net.ParseIP(ip) != nil {
			out = append(out, h)
			continue
		}
		addrs, err := net.DefaultResolver.LookupHost(ctx, h)
		if err != nil || len(addrs) == 0 {
			continue
		}
		out = append(out, net.JoinHostPort(addrs[0], "53"))
	}
	return out
}
