package dns

import (
	"context"
	"net"

	"vantage/pkg/logging"
	"vantage/pkg/queryengine"
	"vantage/pkg/wire"
)

const defaultUDPSize = 512

// Handler decodes, resolves, and re-encodes one query at a time. It holds
// no per-request state; all of that lives in queryengine.Engine, which
// already records every query-lifecycle metric this handler would
// otherwise duplicate.
type Handler struct {
	Engine *queryengine.Engine
	Logger *logging.Logger
}

// NewHandler ties a transport listener to a query engine.
func NewHandler(engine *queryengine.Engine, logger *logging.Logger) *Handler {
	return &Handler{Engine: engine, Logger: logger}
}

// HandleUDP decodes a single UDP datagram, resolves it, and returns the
// wire-ready reply, truncating (TC bit, emptied sections) if the full
// answer would not fit the client's negotiated or default buffer size.
func (h *Handler) HandleUDP(ctx context.Context, clientIP string, pkt []byte) []byte {
	req, err := wire.Decode(pkt)
	if err != nil {
		if len(pkt) < 12 {
			h.Logger.Debug("server: dropping malformed UDP query", "client", clientIP, "error", err)
			return nil
		}
		// The header decoded, so the client gets FORMERR under its own ID.
		h.Logger.Debug("server: answering malformed UDP query with FORMERR", "client", clientIP, "error", err)
		out, _ := wire.Encode(&wire.Message{Header: wire.Header{ID: uint16(pkt[0])<<8 | uint16(pkt[1]), QR: true, Rcode: wire.RcodeFormErr}})
		return out
	}

	resp := h.Engine.Execute(ctx, clientIP, req)
	bufSize := negotiatedSize(req)

	out, err := wire.Encode(resp)
	if err != nil {
		h.Logger.Error("server: failed to encode response", "error", err, "client", clientIP)
		return nil
	}
	if len(out) > int(bufSize) {
		resp.Answer, resp.Ns, resp.Extra = nil, nil, nil
		resp.Header.TC = true
		resp.Finalize()
		out, err = wire.Encode(resp)
		if err != nil {
			h.Logger.Error("server: failed to encode truncated response", "error", err, "client", clientIP)
			return nil
		}
	}
	return out
}

// HandleTCP decodes one already-unframed TCP query and returns the raw
// reply bytes; the caller is responsible for the two-byte length prefix.
func (h *Handler) HandleTCP(ctx context.Context, clientIP string, pkt []byte) ([]byte, error) {
	req, err := wire.Decode(pkt)
	if err != nil {
		if len(pkt) < 12 {
			return nil, err
		}
		return wire.Encode(&wire.Message{Header: wire.Header{ID: uint16(pkt[0])<<8 | uint16(pkt[1]), QR: true, Rcode: wire.RcodeFormErr}})
	}
	resp := h.Engine.Execute(ctx, clientIP, req)
	return wire.Encode(resp)
}

// negotiatedSize returns the UDP payload size the client advertised via
// EDNS0, clamped to a sane range, or the plain-DNS default of 512 bytes.
func negotiatedSize(req *wire.Message) uint16 {
	if opt := req.EDNS0(); opt != nil && opt.UDPSize >= 512 {
		if opt.UDPSize > 4096 {
			return 4096
		}
		return opt.UDPSize
	}
	return defaultUDPSize
}

func clientIPFromAddr(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
