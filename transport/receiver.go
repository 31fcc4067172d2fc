// Package transport provides the per-connection receive loop and the
// serialized send path shared by client and server.
//
// A Receiver turns the raw byte stream of one connection into complete frame
// bodies. A Conn wraps a net.Conn so that concurrent senders never interleave
// frames. One Receiver and one Conn together own a socket:
//
//	goroutine-1 ──Send──┐
//	goroutine-2 ──Send──┼──→ Conn (write lock) ──→ single TCP conn
//	goroutine-3 ──Send──┘
//
//	Receiver.Run: ←── bytes in arbitrary chunks ──→ complete frames, in order
package transport

import (
	"io"

	"github.com/15001217168/ecommon/protocol"
)

// FrameHandler consumes one complete frame body. Handlers are invoked from
// the receive loop goroutine, in the exact order the frames' last bytes
// arrived. The slice is owned by the handler; the receiver never reuses it.
type FrameHandler func(body []byte)

// ErrorHandler is invoked once, when the receive loop stops: end of stream,
// socket error, or framing violation. No frames are delivered afterwards.
type ErrorHandler func(err error)

// Receiver drives the framing state machine for one connection. It is either
// reading the 4-byte length prefix or reading body bytes; short reads leave
// it in the same state until the current unit is complete.
type Receiver struct {
	r        io.Reader
	bufSize  int
	maxFrame uint32
	onFrame  FrameHandler
	onError  ErrorHandler
}

// DefaultBufferSize is the scratch buffer used for body reads when the caller
// does not configure one.
const DefaultBufferSize = 8192

// NewReceiver builds a receiver over r. bufSize below the header size is
// raised to the default; maxFrame 0 applies protocol.DefaultMaxFrameBytes.
func NewReceiver(r io.Reader, bufSize int, maxFrame uint32, onFrame FrameHandler, onError ErrorHandler) *Receiver {
	if bufSize < protocol.HeaderSize {
		bufSize = DefaultBufferSize
	}
	return &Receiver{
		r:        r,
		bufSize:  bufSize,
		maxFrame: maxFrame,
		onFrame:  onFrame,
		onError:  onError,
	}
}

// Run reads frames until the stream ends or a framing violation occurs, then
// reports the cause through the error handler and returns. It is meant to be
// the body of a dedicated goroutine, one per connection.
//
// Reads must stay on this single goroutine: TCP is a byte stream and frame
// boundaries only make sense when the bytes are consumed sequentially.
func (rc *Receiver) Run() {
	var (
		header    = make([]byte, protocol.HeaderSize)
		headerGot int
		expected  = -1 // -1 while the length prefix is incomplete
		body      []byte
		buf       = make([]byte, rc.bufSize)
	)

	for {
		if expected < 0 {
			// Reading the header. The OS may hand over fewer than 4
			// bytes; keep asking for the remainder.
			n, err := rc.r.Read(header[headerGot:])
			headerGot += n
			if headerGot == protocol.HeaderSize {
				size, derr := protocol.DecodeHeader(header, rc.maxFrame)
				if derr != nil {
					rc.onError(derr)
					return
				}
				expected = int(size)
				headerGot = 0
				body = make([]byte, 0, expected)
				if expected == 0 {
					// Empty frame: complete as soon as the header is.
					rc.onFrame(body)
					expected = -1
					body = nil
				}
			}
			if err != nil {
				rc.onError(err)
				return
			}
			continue
		}

		// Reading the body. Never ask for more than the frame still
		// needs, or bytes of the next frame would land in this one.
		want := expected - len(body)
		if want > len(buf) {
			want = len(buf)
		}
		n, err := rc.r.Read(buf[:want])
		body = append(body, buf[:n]...)
		if len(body) == expected {
			// Deliver before inspecting err: a stream may end exactly
			// on a frame boundary and that frame is still valid.
			rc.onFrame(body)
			expected = -1
			body = nil
		}
		if err != nil {
			rc.onError(err)
			return
		}
	}
}
