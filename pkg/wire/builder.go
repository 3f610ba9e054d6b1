package wire

// NewQuery builds a minimal recursive query for name/qtype with a random
// transaction ID supplied by the caller (the codec itself never touches
// randomness, keeping it deterministic and easy to test).
func NewQuery(id uint16, name string, qtype RRType) *Message {
	return &Message{
		Header: Header{
			ID:      id,
			RD:      true,
			QDCount: 1,
		},
		Question: []Question{{Name: Canonical(name), Type: qtype, Class: ClassINET}},
	}
}

// Reply builds a skeleton response to req with the given rcode, ready for
// the caller to append Answer/Ns/Extra records.
func Reply(req *Message, rcode uint8) *Message {
	resp := &Message{
		Header: Header{
			ID:     req.Header.ID,
			QR:     true,
			Opcode: req.Header.Opcode,
			RD:     req.Header.RD,
			RA:     true,
			Rcode:  rcode,
		},
		Question: append([]Question(nil), req.Question...),
	}
	return resp
}

// Finalize recomputes the section counts from the current slice lengths.
// Callers build Answer/Ns/Extra directly and call Finalize before Encode.
func (m *Message) Finalize() {
	m.Header.QDCount = uint16(len(m.Question))
	m.Header.ANCount = uint16(len(m.Answer))
	m.Header.NSCount = uint16(len(m.Ns))
	m.Header.ARCount = uint16(len(m.Extra))
}

// EDNS0 returns the OPT pseudo-RR from the additional section, if present.
func (m *Message) EDNS0() *OPT {
	for i := range m.Extra {
		if opt, ok := m.Extra[i].Data.(OPT); ok {
			return &opt
		}
	}
	return nil
}

// SetEDNS0 adds (or replaces) the OPT pseudo-RR in the additional
// section, advertising udpSize and echoing the supplied options
// unchanged, per the custom-option-code passthrough requirement.
func (m *Message) SetEDNS0(udpSize uint16, do bool, options []EDNSOption) {
	opt := RR{
		Name:  ".",
		Type:  TypeOPT,
		Class: Class(udpSize),
		Data:  OPT{UDPSize: udpSize, DO: do, Options: options},
	}
	for i := range m.Extra {
		if m.Extra[i].Type == TypeOPT {
			m.Extra[i] = opt
			return
		}
	}
	m.Extra = append(m.Extra, opt)
}
