package middleware

import (
	"context"
	"time"

	"github.com/15001217168/ecommon/message"
)

// Timeout bounds one handler invocation. On expiry the request is answered
// with SystemCodeTimeout; the handler goroutine is left to finish on its own
// and its late result is discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RemotingRequest) *message.RemotingResponse {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RemotingResponse, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.RemotingResponse{
					Sequence: req.Sequence,
					Code:     message.SystemCodeTimeout,
				}
			}
		}
	}
}
