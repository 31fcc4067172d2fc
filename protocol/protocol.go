// Package protocol implements the length-prefixed binary frame used on the wire.
//
// It solves TCP's sticky packet problem with a 4-byte length prefix: the
// receiver reads the prefix first to learn the body length, then reads exactly
// that many bytes.
//
// Frame format:
//
//	0        4
//	┌────────┬───────────────┐
//	│ length │     body ...  │
//	│ u32 le │ length bytes  │
//	└────────┴───────────────┘
//
// The length covers the body only. All multi-byte integers on this wire are
// little-endian.
package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of the length prefix in bytes.
	HeaderSize = 4

	// DefaultMaxFrameBytes caps the body length a receiver will accept.
	// A frame announcing a larger body is treated as a framing violation
	// and the connection is closed.
	DefaultMaxFrameBytes uint32 = 16 << 20 // 16 MiB
)

// FramingError reports a receive-side parse failure: an oversized announced
// length or a body that does not match its declared layout. The connection
// that produced it must be closed; the stream position can no longer be
// trusted.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "protocol: framing error: " + e.Reason
}

// Encode prepends the 4-byte little-endian length to body.
// The returned slice is freshly allocated; body may be nil for an empty frame.
func Encode(body []byte) []byte {
	buf := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:HeaderSize], uint32(len(body)))
	copy(buf[HeaderSize:], body)
	return buf
}

// DecodeHeader parses a 4-byte length prefix and validates it against maxFrame.
// Pass maxFrame 0 to apply DefaultMaxFrameBytes.
func DecodeHeader(header []byte, maxFrame uint32) (uint32, error) {
	if len(header) < HeaderSize {
		return 0, &FramingError{Reason: fmt.Sprintf("header too short: %d bytes", len(header))}
	}
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	length := binary.LittleEndian.Uint32(header[0:HeaderSize])
	if length > maxFrame {
		return 0, &FramingError{Reason: fmt.Sprintf("frame length %d exceeds limit %d", length, maxFrame)}
	}
	return length, nil
}
