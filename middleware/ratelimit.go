package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/15001217168/ecommon/message"
)

// RateLimit rejects requests above r per second (token bucket with the given
// burst). A rejected request is answered with SystemCodeThrottled instead of
// being dropped, so a well-behaved client fails fast rather than timing out.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RemotingRequest) *message.RemotingResponse {
			if !limiter.Allow() {
				return &message.RemotingResponse{
					Sequence: req.Sequence,
					Code:     message.SystemCodeThrottled,
				}
			}
			return next(ctx, req)
		}
	}
}
