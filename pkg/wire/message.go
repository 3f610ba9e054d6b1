// Package wire implements the classic DNS on-the-wire message format:
// a fixed 12-octet header, a question section, and three resource-record
// sections, with label compression on decode and opportunistic
// compression on encode. It has no dependency on any third-party DNS
// library — the codec is the one piece of this resolver that is
// deliberately hand-rolled end to end, since the wire format is where
// the project's own algorithmic surface lives rather than something to
// delegate to a dependency.
package wire

// Opcode values (RFC 1035 §4.1.1).
const (
	OpcodeQuery  uint8 = 0
	OpcodeIQuery uint8 = 1
	OpcodeStatus uint8 = 2
	OpcodeNotify uint8 = 4
	OpcodeUpdate uint8 = 5
)

// Response codes (RFC 1035 §4.1.1).
const (
	RcodeSuccess  uint8 = 0
	RcodeFormErr  uint8 = 1
	RcodeServFail uint8 = 2
	RcodeNXDomain uint8 = 3
	RcodeNotImp   uint8 = 4
	RcodeRefused  uint8 = 5
)

// RRType enumerates the record types this codec understands natively.
// Anything else decodes to an opaque RDATA payload that is preserved
// verbatim on re-encode.
type RRType uint16

const (
	TypeA     RRType = 1
	TypeNS    RRType = 2
	TypeCNAME RRType = 5
	TypeSOA   RRType = 6
	TypePTR   RRType = 12
	TypeMX    RRType = 15
	TypeTXT   RRType = 16
	TypeAAAA  RRType = 28
	TypeOPT   RRType = 41
	TypeANY   RRType = 255
)

var typeNames = map[RRType]string{
	TypeA:     "A",
	TypeNS:    "NS",
	TypeCNAME: "CNAME",
	TypeSOA:   "SOA",
	TypePTR:   "PTR",
	TypeMX:    "MX",
	TypeTXT:   "TXT",
	TypeAAAA:  "AAAA",
	TypeOPT:   "OPT",
	TypeANY:   "ANY",
}

// String renders a human name for known types, falling back to "TYPEnnn".
func (t RRType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "TYPE" + itoa(uint32(t))
}

var rcodeNames = map[uint8]string{
	RcodeSuccess:  "NOERROR",
	RcodeFormErr:  "FORMERR",
	RcodeServFail: "SERVFAIL",
	RcodeNXDomain: "NXDOMAIN",
	RcodeNotImp:   "NOTIMP",
	RcodeRefused:  "REFUSED",
}

// RcodeName renders a human name for a response code, falling back to
// "RCODEnnn" for anything outside the subset this codec names.
func RcodeName(rcode uint8) string {
	if s, ok := rcodeNames[rcode]; ok {
		return s
	}
	return "RCODE" + itoa(uint32(rcode))
}

// Class enumerates the query/RR class.
type Class uint16

const (
	ClassINET Class = 1
	ClassANY  Class = 255
)

// Header is the fixed 12-octet DNS message header.
type Header struct {
	ID      uint16
	QR      bool // query (false) or response (true)
	Opcode  uint8
	AA      bool // authoritative answer
	TC      bool // truncated
	RD      bool // recursion desired
	RA      bool // recursion available
	AD      bool // authentic data
	CD      bool // checking disabled
	Rcode   uint8
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is a single entry of the question section.
type Question struct {
	Name  string
	Type  RRType
	Class Class
}

// RR is one resource record: a name, type, class, TTL, and type-specific
// RDATA. Unknown types carry an Unknown payload so re-encoding is
// byte-faithful even for record types this codec has no structured model
// for.
type RR struct {
	Name  string
	Type  RRType
	Class Class
	TTL   uint32
	Data  RData
}

// Message is a fully decoded DNS message: header plus the four sections.
type Message struct {
	Header   Header
	Question []Question
	Answer   []RR
	Ns       []RR
	Extra    []RR
}

// Clone returns a deep copy safe to mutate independently of the
// original — callers (notably the cache) must never hand out a message
// that shares slices or RDATA with a stored entry.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := &Message{Header: m.Header}
	out.Question = append([]Question(nil), m.Question...)
	out.Answer = cloneRRs(m.Answer)
	out.Ns = cloneRRs(m.Ns)
	out.Extra = cloneRRs(m.Extra)
	return out
}

func cloneRRs(in []RR) []RR {
	if in == nil {
		return nil
	}
	out := make([]RR, len(in))
	for i, rr := range in {
		out[i] = rr
		if rr.Data != nil {
			out[i].Data = rr.Data.clone()
		}
	}
	return out
}

// MinAnswerTTL returns the smallest TTL in the answer section, 0 if there
// are no answers. It changes no TTL. The query engine uses it as the
// admission TTL for the positive cache.
func (m *Message) MinAnswerTTL() uint32 {
	var min uint32
	for i, rr := range m.Answer {
		if i == 0 || rr.TTL < min {
			min = rr.TTL
		}
	}
	return min
}

// SetAllTTL overwrites the TTL of every RR in all three sections, used
// when serving a stale/prefetch-adjusted entry with TTL=0.
func (m *Message) SetAllTTL(ttl uint32) {
	for i := range m.Answer {
		m.Answer[i].TTL = ttl
	}
	for i := range m.Ns {
		m.Ns[i].TTL = ttl
	}
	for i := range m.Extra {
		m.Extra[i].TTL = ttl
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
