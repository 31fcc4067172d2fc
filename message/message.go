// Package message defines the request and response records exchanged between
// client and server, together with their binary body encoding.
//
// A RemotingRequest names a handler on the peer by a 32-bit code and carries
// an opaque payload. A RemotingResponse echoes the request's sequence number,
// which is how the client correlates it with the pending call that produced
// it. Both are serialized into the body of a protocol frame.
package message

import (
	"fmt"
	"time"
)

// RemotingRequest is immutable once built. Sequence is unique within the
// lifetime of the client that allocated it.
type RemotingRequest struct {
	Sequence  uint64 // correlation id, allocated by the client engine
	Code      int32  // selects a handler on the peer
	Oneway    bool   // true: the peer must not reply
	CreatedAt int64  // unix milliseconds at creation
	Payload   []byte // opaque application bytes
}

// RemotingResponse answers exactly one outstanding request.
type RemotingResponse struct {
	Sequence uint64 // echoes the request
	Code     int32  // application-defined status
	Payload  []byte // opaque application bytes
}

// Reserved response codes emitted by the framework itself when it answers on
// behalf of a handler. Application handlers should stick to non-negative
// codes.
const (
	SystemCodeHandlerError int32 = -1 // handler panicked
	SystemCodeThrottled    int32 = -2 // rejected by the rate limiter
	SystemCodeTimeout      int32 = -3 // handler exceeded its time budget
)

func (r *RemotingRequest) String() string {
	return fmt.Sprintf("request[seq=%d code=%d oneway=%t bytes=%d]",
		r.Sequence, r.Code, r.Oneway, len(r.Payload))
}

func (r *RemotingResponse) String() string {
	return fmt.Sprintf("response[seq=%d code=%d bytes=%d]",
		r.Sequence, r.Code, len(r.Payload))
}

// NewRequest builds a request stamped with the current wall clock. The
// sequence number is assigned later, by the client engine that sends it.
func NewRequest(code int32, payload []byte) *RemotingRequest {
	return &RemotingRequest{
		Code:      code,
		CreatedAt: time.Now().UnixMilli(),
		Payload:   payload,
	}
}
