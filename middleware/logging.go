package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/15001217168/ecommon/message"
)

// Logging records every dispatched request with its duration and the
// response code (or that no response was produced).
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RemotingRequest) *message.RemotingResponse {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.Int32("code", req.Code),
				zap.Uint64("sequence", req.Sequence),
				zap.Bool("oneway", req.Oneway),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil {
				fields = append(fields, zap.Int32("responseCode", resp.Code))
			}
			logger.Info("request handled", fields...)
			return resp
		}
	}
}
