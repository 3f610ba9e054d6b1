package wire

import "net"

// RData is a type-specific RR payload. Concrete implementations know how
// to marshal themselves into wire bytes; decoding is handled centrally in
// decode.go (name fields need the whole message to follow compression
// pointers).
type RData interface {
	rtype() RRType
	marshal(enc *encoder) []byte
	clone() RData
}

// A is an IPv4 address record.
type A struct{ IP net.IP }

func (A) rtype() RRType { return TypeA }
func (r A) marshal(*encoder) []byte {
	ip4 := r.IP.To4()
	if ip4 == nil {
		return make([]byte, 4)
	}
	return append([]byte(nil), ip4...)
}
func (r A) clone() RData { return A{IP: append(net.IP(nil), r.IP...)} }

// AAAA is an IPv6 address record.
type AAAA struct{ IP net.IP }

func (AAAA) rtype() RRType { return TypeAAAA }
func (r AAAA) marshal(*encoder) []byte {
	ip16 := r.IP.To16()
	if ip16 == nil {
		return make([]byte, 16)
	}
	return append([]byte(nil), ip16...)
}
func (r AAAA) clone() RData { return AAAA{IP: append(net.IP(nil), r.IP...)} }

// NS is a name server referral record.
type NS struct{ Host string }

func (NS) rtype() RRType             { return TypeNS }
func (r NS) marshal(e *encoder) []byte { return e.encodeName(r.Host) }
func (r NS) clone() RData            { return r }

// CNAME is a canonical-name alias record.
type CNAME struct{ Host string }

func (CNAME) rtype() RRType             { return TypeCNAME }
func (r CNAME) marshal(e *encoder) []byte { return e.encodeName(r.Host) }
func (r CNAME) clone() RData            { return r }

// PTR is a pointer record (reverse DNS).
type PTR struct{ Host string }

func (PTR) rtype() RRType             { return TypePTR }
func (r PTR) marshal(e *encoder) []byte { return e.encodeName(r.Host) }
func (r PTR) clone() RData            { return r }

// MX is a mail-exchanger record.
type MX struct {
	Preference uint16
	Host       string
}

func (MX) rtype() RRType { return TypeMX }
func (r MX) marshal(e *encoder) []byte {
	buf := make([]byte, 2)
	putUint16(buf, r.Preference)
	// The host starts two octets into the RDATA; extend e.buf while it is
	// encoded so the suffix offsets it records are where it really lands.
	e.buf = append(e.buf, buf...)
	host := e.encodeName(r.Host)
	e.buf = e.buf[:len(e.buf)-len(buf)]
	return append(buf, host...)
}
func (r MX) clone() RData { return r }

// TXT is a free-form text record, stored as the list of character strings
// it was encoded from.
type TXT struct{ Txt []string }

func (TXT) rtype() RRType { return TypeTXT }
func (r TXT) marshal(*encoder) []byte {
	var out []byte
	for _, s := range r.Txt {
		chunk := []byte(s)
		for len(chunk) > 255 {
			out = append(out, 255)
			out = append(out, chunk[:255]...)
			chunk = chunk[255:]
		}
		out = append(out, byte(len(chunk)))
		out = append(out, chunk...)
	}
	return out
}
func (r TXT) clone() RData { return TXT{Txt: append([]string(nil), r.Txt...)} }

// SOA is a start-of-authority record; Minimum is the field the negative
// cache uses to derive a NXDOMAIN/NODATA TTL.
type SOA struct {
	Mname   string
	Rname   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

func (SOA) rtype() RRType { return TypeSOA }
func (r SOA) marshal(e *encoder) []byte {
	out := e.encodeName(r.Mname)
	// Rname follows Mname; extend e.buf likewise so its recorded suffix
	// offsets are the real ones.
	e.buf = append(e.buf, out...)
	rname := e.encodeName(r.Rname)
	e.buf = e.buf[:len(e.buf)-len(out)]
	out = append(out, rname...)
	tail := make([]byte, 20)
	putUint32(tail[0:], r.Serial)
	putUint32(tail[4:], r.Refresh)
	putUint32(tail[8:], r.Retry)
	putUint32(tail[12:], r.Expire)
	putUint32(tail[16:], r.Minimum)
	return append(out, tail...)
}
func (r SOA) clone() RData { return r }

// OPT models the single EDNS0 pseudo-RR carried in the additional section.
// UDPSize lives in the RR's Class field on the wire (handled by the
// codec); ExtRcode/Version/Flags live in the 32-bit TTL field.
type OPT struct {
	UDPSize    uint16
	ExtRcode   uint8
	Version    uint8
	DO         bool
	Options    []EDNSOption
}

// EDNSOption is one OPT-RR option (code/length/data triplet), used both
// for the DNSSEC-OK bit's siblings and for custom option codes that must
// be echoed back unchanged.
type EDNSOption struct {
	Code uint16
	Data []byte
}

func (OPT) rtype() RRType { return TypeOPT }
func (r OPT) marshal(*encoder) []byte {
	var out []byte
	for _, opt := range r.Options {
		hdr := make([]byte, 4)
		putUint16(hdr[0:], opt.Code)
		putUint16(hdr[2:], uint16(len(opt.Data)))
		out = append(out, hdr...)
		out = append(out, opt.Data...)
	}
	return out
}
func (r OPT) clone() RData {
	out := r
	out.Options = make([]EDNSOption, len(r.Options))
	for i, o := range r.Options {
		out.Options[i] = EDNSOption{Code: o.Code, Data: append([]byte(nil), o.Data...)}
	}
	return out
}

// Unknown preserves the raw RDATA of any type this codec has no
// structured model for, verbatim, so re-encoding is byte-faithful.
type Unknown struct {
	Type RRType
	Raw  []byte
}

func (u Unknown) rtype() RRType             { return u.Type }
func (u Unknown) marshal(*encoder) []byte   { return append([]byte(nil), u.Raw...) }
func (u Unknown) clone() RData              { return Unknown{Type: u.Type, Raw: append([]byte(nil), u.Raw...)} }

func putUint16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }
func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
