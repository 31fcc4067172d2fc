package message

import (
	"encoding/binary"
	"fmt"

	"github.com/15001217168/ecommon/protocol"
)

// Body layout, all little-endian:
//
//	request:  seq u64 | code i32 | oneway u8 | createdAt i64 | payloadLen u32 | payload
//	response: seq u64 | code i32 | payloadLen u32 | payload
const (
	requestFixedLen  = 8 + 4 + 1 + 8 + 4
	responseFixedLen = 8 + 4 + 4
)

// EncodeRequest serializes req into a frame body.
func EncodeRequest(req *RemotingRequest) []byte {
	buf := make([]byte, requestFixedLen+len(req.Payload))

	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], req.Sequence)
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], uint32(req.Code))
	offset += 4
	if req.Oneway {
		buf[offset] = 1
	}
	offset++
	binary.LittleEndian.PutUint64(buf[offset:], uint64(req.CreatedAt))
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(req.Payload)))
	offset += 4
	copy(buf[offset:], req.Payload)
	return buf
}

// DecodeRequest parses a frame body produced by EncodeRequest.
// A short buffer or a payload length overrunning the body is a framing
// violation: the stream can no longer be trusted.
func DecodeRequest(data []byte) (*RemotingRequest, error) {
	if len(data) < requestFixedLen {
		return nil, &protocol.FramingError{Reason: fmt.Sprintf("request body too short: %d bytes", len(data))}
	}

	req := &RemotingRequest{}
	offset := 0
	req.Sequence = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	req.Code = int32(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	req.Oneway = data[offset] != 0
	offset++
	req.CreatedAt = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	payloadLen := binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if uint32(len(data)-offset) != payloadLen {
		return nil, &protocol.FramingError{Reason: fmt.Sprintf("request payload length %d does not match remaining %d bytes", payloadLen, len(data)-offset)}
	}
	req.Payload = make([]byte, payloadLen)
	copy(req.Payload, data[offset:])
	return req, nil
}

// EncodeResponse serializes resp into a frame body.
func EncodeResponse(resp *RemotingResponse) []byte {
	buf := make([]byte, responseFixedLen+len(resp.Payload))

	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], resp.Sequence)
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], uint32(resp.Code))
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(resp.Payload)))
	offset += 4
	copy(buf[offset:], resp.Payload)
	return buf
}

// DecodeResponse parses a frame body produced by EncodeResponse.
func DecodeResponse(data []byte) (*RemotingResponse, error) {
	if len(data) < responseFixedLen {
		return nil, &protocol.FramingError{Reason: fmt.Sprintf("response body too short: %d bytes", len(data))}
	}

	resp := &RemotingResponse{}
	offset := 0
	resp.Sequence = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	resp.Code = int32(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	payloadLen := binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if uint32(len(data)-offset) != payloadLen {
		return nil, &protocol.FramingError{Reason: fmt.Sprintf("response payload length %d does not match remaining %d bytes", payloadLen, len(data)-offset)}
	}
	resp.Payload = make([]byte, payloadLen)
	copy(resp.Payload, data[offset:])
	return resp, nil
}
