package wire

import "errors"

// Decode/encode failures surfaced to callers. The server handler replies
// FORMERR for these on inbound client queries (once the header itself
// decoded) and silently discards malformed inbound server responses.
var (
	ErrTruncated        = errors.New("wire: message truncated")
	ErrMalformedName    = errors.New("wire: malformed or looping name")
	ErrLabelTooLong     = errors.New("wire: label exceeds 63 octets")
	ErrNameTooLong      = errors.New("wire: name exceeds 255 octets")
	ErrBadOpcode        = errors.New("wire: unsupported opcode")
	ErrUnsupportedClass = errors.New("wire: unsupported class")
)
