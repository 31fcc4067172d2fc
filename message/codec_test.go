package message

import (
	"bytes"
	"errors"
	"testing"

	"github.com/15001217168/ecommon/protocol"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		req  *RemotingRequest
	}{
		{"plain", &RemotingRequest{Sequence: 42, Code: 7, CreatedAt: 1700000000123, Payload: []byte("hello")}},
		{"oneway", &RemotingRequest{Sequence: 1, Code: -3, Oneway: true, CreatedAt: 99, Payload: []byte{0, 1, 2}}},
		{"empty payload", &RemotingRequest{Sequence: 1<<63 + 5, Code: 2147483647, CreatedAt: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeRequest(EncodeRequest(tc.req))
			if err != nil {
				t.Fatalf("DecodeRequest failed: %v", err)
			}
			if got.Sequence != tc.req.Sequence {
				t.Errorf("Sequence mismatch: got %d, want %d", got.Sequence, tc.req.Sequence)
			}
			if got.Code != tc.req.Code {
				t.Errorf("Code mismatch: got %d, want %d", got.Code, tc.req.Code)
			}
			if got.Oneway != tc.req.Oneway {
				t.Errorf("Oneway mismatch: got %t, want %t", got.Oneway, tc.req.Oneway)
			}
			if got.CreatedAt != tc.req.CreatedAt {
				t.Errorf("CreatedAt mismatch: got %d, want %d", got.CreatedAt, tc.req.CreatedAt)
			}
			if !bytes.Equal(got.Payload, tc.req.Payload) {
				t.Errorf("Payload mismatch: got %v, want %v", got.Payload, tc.req.Payload)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &RemotingResponse{Sequence: 42, Code: SystemCodeThrottled, Payload: []byte("world")}

	got, err := DecodeResponse(EncodeResponse(resp))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if got.Sequence != resp.Sequence || got.Code != resp.Code || !bytes.Equal(got.Payload, resp.Payload) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, resp)
	}
}

func TestDecodeRequestTruncated(t *testing.T) {
	data := EncodeRequest(&RemotingRequest{Sequence: 9, Code: 1, Payload: []byte("abc")})

	for _, cut := range []int{0, 5, requestFixedLen - 1, len(data) - 1} {
		if _, err := DecodeRequest(data[:cut]); err == nil {
			t.Errorf("expected error for %d-byte body, got nil", cut)
		} else {
			var fe *protocol.FramingError
			if !errors.As(err, &fe) {
				t.Errorf("expected FramingError for %d-byte body, got %T: %v", cut, err, err)
			}
		}
	}
}

func TestDecodeResponseTrailingGarbage(t *testing.T) {
	data := EncodeResponse(&RemotingResponse{Sequence: 9, Payload: []byte("abc")})
	data = append(data, 0xFF)

	if _, err := DecodeResponse(data); err == nil {
		t.Error("expected error for trailing bytes, got nil")
	}
}

func TestNewRequestStampsCreation(t *testing.T) {
	req := NewRequest(5, []byte("x"))
	if req.Code != 5 {
		t.Errorf("Code mismatch: got %d, want 5", req.Code)
	}
	if req.CreatedAt == 0 {
		t.Error("CreatedAt not stamped")
	}
	if req.Oneway {
		t.Error("new request should not be oneway")
	}
}
