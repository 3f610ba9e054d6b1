package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxTCPMessageSize is the largest message the 16-bit length prefix can
// describe.
const MaxTCPMessageSize = 65535

// ReadTCP reads one length-prefixed DNS message from r, handling short
// reads. A single connection may carry multiple pipelined messages; call
// ReadTCP again to read the next one.
func ReadTCP(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 {
		return nil, fmt.Errorf("wire: zero-length TCP message")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteTCP writes msg to w with its two-octet big-endian length prefix.
func WriteTCP(w io.Writer, msg []byte) error {
	if len(msg) > MaxTCPMessageSize {
		return fmt.Errorf("wire: message too large for TCP framing: %d bytes", len(msg))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

// Canonical lowercases a name and ensures a trailing dot, the form used
// as the name component of every cache key.
func Canonical(name string) string { return lowerFQDN(name) }
