package wire

// Decode parses a complete DNS message from buf.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < 12 {
		return nil, ErrTruncated
	}

	m := &Message{}
	hdr := &m.Header
	hdr.ID = be16(buf, 0)
	flags := be16(buf, 2)
	hdr.QR = flags&0x8000 != 0
	hdr.Opcode = uint8(flags >> 11 & 0x0F)
	hdr.AA = flags&0x0400 != 0
	hdr.TC = flags&0x0200 != 0
	hdr.RD = flags&0x0100 != 0
	hdr.RA = flags&0x0080 != 0
	hdr.AD = flags&0x0020 != 0
	hdr.CD = flags&0x0010 != 0
	hdr.Rcode = uint8(flags & 0x000F)
	hdr.QDCount = be16(buf, 4)
	hdr.ANCount = be16(buf, 6)
	hdr.NSCount = be16(buf, 8)
	hdr.ARCount = be16(buf, 10)

	if hdr.Opcode > OpcodeUpdate {
		return nil, ErrBadOpcode
	}

	off := 12
	var err error

	m.Question = make([]Question, 0, hdr.QDCount)
	for i := uint16(0); i < hdr.QDCount; i++ {
		var q Question
		q.Name, off, err = decodeName(buf, off)
		if err != nil {
			return nil, err
		}
		if off+4 > len(buf) {
			return nil, ErrTruncated
		}
		q.Type = RRType(be16(buf, off))
		q.Class = Class(be16(buf, off+2))
		off += 4
		if q.Class != ClassINET && q.Class != ClassANY {
			return nil, ErrUnsupportedClass
		}
		m.Question = append(m.Question, q)
	}

	if m.Answer, off, err = decodeRRs(buf, off, hdr.ANCount); err != nil {
		return nil, err
	}
	if m.Ns, off, err = decodeRRs(buf, off, hdr.NSCount); err != nil {
		return nil, err
	}
	if m.Extra, _, err = decodeRRs(buf, off, hdr.ARCount); err != nil {
		return nil, err
	}

	return m, nil
}

func decodeRRs(buf []byte, off int, count uint16) ([]RR, int, error) {
	rrs := make([]RR, 0, count)
	for i := uint16(0); i < count; i++ {
		rr, next, err := decodeRR(buf, off)
		if err != nil {
			return nil, 0, err
		}
		off = next
		rrs = append(rrs, rr)
	}
	return rrs, off, nil
}

func decodeRR(buf []byte, off int) (RR, int, error) {
	var rr RR
	var err error

	rr.Name, off, err = decodeName(buf, off)
	if err != nil {
		return RR{}, 0, err
	}
	if off+10 > len(buf) {
		return RR{}, 0, ErrTruncated
	}
	rr.Type = RRType(be16(buf, off))
	rr.Class = Class(be16(buf, off+2))
	rr.TTL = be32(buf, off+4)
	rdlen := int(be16(buf, off+8))
	off += 10

	if off+rdlen > len(buf) {
		return RR{}, 0, ErrTruncated
	}
	rdata := buf[off : off+rdlen]

	data, err := decodeRData(rr.Type, buf, off, rdlen, rdata)
	if err != nil {
		return RR{}, 0, err
	}
	if opt, ok := data.(OPT); ok {
		opt.UDPSize = uint16(rr.Class)
		opt.ExtRcode = uint8(rr.TTL >> 24)
		opt.Version = uint8(rr.TTL >> 16)
		opt.DO = rr.TTL&0x8000 != 0
		rr.Data = opt
	} else {
		rr.Data = data
	}
	off += rdlen

	return rr, off, nil
}

// decodeRData parses the RDATA of a known type. base/baseLen locate the
// RDATA within buf so that name fields inside RDATA (NS/CNAME/MX/SOA) can
// still follow compression pointers into the rest of the message.
func decodeRData(t RRType, buf []byte, base, baseLen int, raw []byte) (RData, error) {
	switch t {
	case TypeA:
		if len(raw) != 4 {
			return Unknown{Type: t, Raw: clone(raw)}, nil
		}
		return A{IP: cloneIP(raw)}, nil

	case TypeAAAA:
		if len(raw) != 16 {
			return Unknown{Type: t, Raw: clone(raw)}, nil
		}
		return AAAA{IP: cloneIP(raw)}, nil

	case TypeNS:
		name, _, err := decodeName(buf, base)
		if err != nil {
			return nil, err
		}
		return NS{Host: name}, nil

	case TypeCNAME:
		name, _, err := decodeName(buf, base)
		if err != nil {
			return nil, err
		}
		return CNAME{Host: name}, nil

	case TypePTR:
		name, _, err := decodeName(buf, base)
		if err != nil {
			return nil, err
		}
		return PTR{Host: name}, nil

	case TypeMX:
		if len(raw) < 2 {
			return Unknown{Type: t, Raw: clone(raw)}, nil
		}
		pref := be16(raw, 0)
		name, _, err := decodeName(buf, base+2)
		if err != nil {
			return nil, err
		}
		return MX{Preference: pref, Host: name}, nil

	case TypeTXT:
		var strs []string
		i := 0
		for i < len(raw) {
			n := int(raw[i])
			i++
			if i+n > len(raw) {
				return Unknown{Type: t, Raw: clone(raw)}, nil
			}
			strs = append(strs, string(raw[i:i+n]))
			i += n
		}
		return TXT{Txt: strs}, nil

	case TypeSOA:
		mname, next, err := decodeName(buf, base)
		if err != nil {
			return nil, err
		}
		rname, next2, err := decodeName(buf, next)
		if err != nil {
			return nil, err
		}
		if next2+20 > len(buf) {
			return nil, ErrTruncated
		}
		return SOA{
			Mname:   mname,
			Rname:   rname,
			Serial:  be32(buf, next2),
			Refresh: be32(buf, next2+4),
			Retry:   be32(buf, next2+8),
			Expire:  be32(buf, next2+12),
			Minimum: be32(buf, next2+16),
		}, nil

	case TypeOPT:
		opt := OPT{}
		i := 0
		for i+4 <= len(raw) {
			code := be16(raw, i)
			dlen := int(be16(raw, i+2))
			i += 4
			if i+dlen > len(raw) {
				break
			}
			opt.Options = append(opt.Options, EDNSOption{Code: code, Data: clone(raw[i : i+dlen])})
			i += dlen
		}
		return opt, nil

	default:
		return Unknown{Type: t, Raw: clone(raw)}, nil
	}
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }
func cloneIP(b []byte) []byte { return append([]byte(nil), b...) }

func be16(b []byte, off int) uint16 { return uint16(b[off])<<8 | uint16(b[off+1]) }
func be32(b []byte, off int) uint32 {
	return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
}
