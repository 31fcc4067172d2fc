// Package middleware wraps the server's request dispatch in an onion-model
// chain: Chain(A, B, C)(handler) executes A before B before C before the
// handler, then unwinds in reverse. Middleware sees decoded requests only;
// the frame path below it is untouched.
package middleware

import (
	"context"

	"github.com/15001217168/ecommon/message"
)

// HandlerFunc processes one decoded request. A nil response means no reply
// is sent (the server honors one-way requests the same way).
type HandlerFunc func(ctx context.Context, req *message.RemotingRequest) *message.RemotingResponse

// Middleware wraps a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. The first middleware is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
