package client

import (
	"sync"
	"time"

	"github.com/15001217168/ecommon/message"
)

// send outcome recorded on a future by the completion callback.
const (
	sendUnknown = iota
	sendOK
	sendFailed
)

// ResponseFuture is the single-shot completion sink for one in-flight
// request. Three producers race to finish it — the response path, the
// timeout sweeper, and the send-failure callback — and only the first wins;
// the rest are no-ops.
type ResponseFuture struct {
	req      *message.RemotingRequest
	addr     string
	timeout  time.Duration
	deadline time.Time

	once sync.Once
	done chan struct{}

	mu        sync.Mutex
	resp      *message.RemotingResponse // nil means "no response"
	sendState int
	sendErr   error
}

func newFuture(addr string, req *message.RemotingRequest, timeout time.Duration, now time.Time) *ResponseFuture {
	return &ResponseFuture{
		req:      req,
		addr:     addr,
		timeout:  timeout,
		deadline: now.Add(timeout),
		done:     make(chan struct{}),
	}
}

// Request returns the request this future belongs to.
func (f *ResponseFuture) Request() *message.RemotingRequest {
	return f.req
}

// Done is closed when the future completes, with either a response or the
// no-response outcome. Use Result to classify.
func (f *ResponseFuture) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future completes or wait elapses, whichever comes
// first, and classifies the outcome:
//
//   - a response arrived: the response, nil error
//   - no response and the send failed: SendError wrapping the cause
//   - no response but the send went out: TimeoutError
//   - wait elapsed with nothing at all: TimeoutError (the sweeper will
//     reclaim the table entry on its next pass)
func (f *ResponseFuture) Result(wait time.Duration) (*message.RemotingResponse, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-f.done:
		resp, state, sendErr := f.outcome()
		if resp != nil {
			return resp, nil
		}
		if state == sendFailed {
			return nil, &SendError{Addr: f.addr, Err: sendErr}
		}
		return nil, f.timeoutError()
	case <-timer.C:
		return nil, f.timeoutError()
	}
}

func (f *ResponseFuture) timeoutError() *TimeoutError {
	return &TimeoutError{Addr: f.addr, Request: f.req.String(), Timeout: f.timeout}
}

// complete finishes the future. A nil resp is the "no response" sentinel.
// Returns true only for the producer whose call actually fired.
func (f *ResponseFuture) complete(resp *message.RemotingResponse) bool {
	fired := false
	f.once.Do(func() {
		f.mu.Lock()
		f.resp = resp
		f.mu.Unlock()
		close(f.done)
		fired = true
	})
	return fired
}

// markSendResult records the outcome of the wire write. A nil err means the
// whole frame went out.
func (f *ResponseFuture) markSendResult(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.sendState = sendOK
		return
	}
	f.sendState = sendFailed
	f.sendErr = err
}

// fail records err as a send failure and completes with no response, so a
// waiter classifies the outcome as a SendError. Used when the connection
// dies or the client shuts down with calls still outstanding.
func (f *ResponseFuture) fail(err error) {
	f.markSendResult(err)
	f.complete(nil)
}

func (f *ResponseFuture) outcome() (*message.RemotingResponse, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resp, f.sendState, f.sendErr
}

func (f *ResponseFuture) expired(now time.Time) bool {
	return !now.Before(f.deadline)
}
