package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripQuery(t *testing.T) {
	q := NewQuery(0x1234, "example.com", TypeA)
	q.Finalize()

	buf, err := Encode(q)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, q.Header.ID, decoded.Header.ID)
	assert.True(t, decoded.Header.RD)
	require.Len(t, decoded.Question, 1)
	assert.Equal(t, "example.com.", decoded.Question[0].Name)
	assert.Equal(t, TypeA, decoded.Question[0].Type)
}

func TestRoundTripAnswerWithCompression(t *testing.T) {
	req := NewQuery(1, "www.example.com", TypeA)
	resp := Reply(req, RcodeSuccess)
	resp.Header.AA = true
	resp.Answer = []RR{
		{Name: "www.example.com.", Type: TypeA, Class: ClassINET, TTL: 300, Data: A{IP: net.ParseIP("93.184.216.34")}},
	}
	resp.Ns = []RR{
		{Name: "example.com.", Type: TypeNS, Class: ClassINET, TTL: 3600, Data: NS{Host: "ns1.example.com."}},
	}
	resp.Finalize()

	buf, err := Encode(resp)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, decoded.Answer, 1)
	a, ok := decoded.Answer[0].Data.(A)
	require.True(t, ok)
	assert.Equal(t, "93.184.216.34", a.IP.String())
	require.Len(t, decoded.Ns, 1)
	ns, ok := decoded.Ns[0].Data.(NS)
	require.True(t, ok)
	assert.Equal(t, "ns1.example.com.", ns.Host)
}

func TestDecodeRejectsForwardPointer(t *testing.T) {
	// A name at offset 12 that points forward to offset 20 (not yet parsed).
	buf := make([]byte, 12)
	buf = append(buf, 0xC0, 20) // pointer forward
	_, _, err := decodeName(buf, 12)
	assert.ErrorIs(t, err, ErrMalformedName)
}

func TestDecodeRejectsSelfLoop(t *testing.T) {
	buf := make([]byte, 14)
	buf[12] = 0xC0
	buf[13] = 12 // points at itself
	_, _, err := decodeName(buf, 12)
	assert.ErrorIs(t, err, ErrMalformedName)
}

func TestNameTooLong(t *testing.T) {
	label := make([]byte, 63)
	for i := range label {
		label[i] = 'a'
	}
	name := ""
	for i := 0; i < 5; i++ {
		name += string(label) + "."
	}
	_, err := splitLabels(name)
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestLabelTooLong(t *testing.T) {
	label := make([]byte, 64)
	for i := range label {
		label[i] = 'a'
	}
	_, err := splitLabels(string(label) + ".")
	assert.ErrorIs(t, err, ErrLabelTooLong)
}

func TestEDNS0RoundTrip(t *testing.T) {
	req := NewQuery(5, "example.com", TypeA)
	req.SetEDNS0(4096, true, []EDNSOption{{Code: 8, Data: []byte{0x00, 0x01}}})
	req.Finalize()

	buf, err := Encode(req)
	require.NoError(t, err)
	decoded, err := Decode(buf)
	require.NoError(t, err)

	opt := decoded.EDNS0()
	require.NotNil(t, opt)
	assert.Equal(t, uint16(4096), opt.UDPSize)
	assert.True(t, opt.DO)
	require.Len(t, opt.Options, 1)
	assert.Equal(t, uint16(8), opt.Options[0].Code)
}

func TestTruncatedMessage(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestUnsupportedClassRejected(t *testing.T) {
	req := NewQuery(1, "example.com", TypeA)
	req.Question[0].Class = 3 // CHAOS class, unsupported
	req.Finalize()
	buf, err := Encode(req)
	require.NoError(t, err)
	_, err = Decode(buf)
	assert.ErrorIs(t, err, ErrUnsupportedClass)
}

func TestSOAMinimumRoundTrip(t *testing.T) {
	req := NewQuery(9, "nonexistent.example.com", TypeA)
	resp := Reply(req, RcodeNXDomain)
	resp.Ns = []RR{
		{Name: "example.com.", Type: TypeSOA, Class: ClassINET, TTL: 3600, Data: SOA{
			Mname: "ns1.example.com.", Rname: "hostmaster.example.com.",
			Serial: 1, Refresh: 7200, Retry: 3600, Expire: 1209600, Minimum: 300,
		}},
	}
	resp.Finalize()

	buf, err := Encode(resp)
	require.NoError(t, err)
	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, decoded.Ns, 1)
	soa, ok := decoded.Ns[0].Data.(SOA)
	require.True(t, ok)
	assert.Equal(t, uint32(300), soa.Minimum)
}
