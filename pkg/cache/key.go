package cache

import "vantage/pkg/wire"

// Key identifies a cache slot: a lowercased FQDN plus RR type and class.
// Lookups are case-insensitive on the name; Canonical enforces that at
// construction so every other method can compare keys directly.
type Key struct {
	Name  string
	Type  wire.RRType
	Class wire.Class
}

// NewKey builds a canonical cache key from a question.
func NewKey(name string, qtype wire.RRType, class wire.Class) Key {
	return Key{Name: wire.Canonical(name), Type: qtype, Class: class}
}

func (k Key) string() string {
	// Cheap fixed-width encoding, avoids fmt.Sprintf on the hot path.
	buf := make([]byte, 0, len(k.Name)+12)
	buf = append(buf, k.Name...)
	buf = append(buf, ':')
	buf = appendUint(buf, uint32(k.Type))
	buf = append(buf, ':')
	buf = appendUint(buf, uint32(k.Class))
	return string(buf)
}

func appendUint(buf []byte, v uint32) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	var tmp [10]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(buf, tmp[i:]...)
}
