package server

import (
	"context"
	"time"

	"github.com/15001217168/ecommon/message"
	"github.com/15001217168/ecommon/protocol"
	"github.com/15001217168/ecommon/transport"
)

// RequestHandler processes one decoded request. Returning nil sends no reply
// (the client will time out unless it invoked one-way); for one-way requests
// any returned response is discarded. Handlers run on their own goroutine,
// so a slow handler never stalls receives on its own connection or others.
type RequestHandler interface {
	Handle(ctx *RequestContext, req *message.RemotingRequest) *message.RemotingResponse
}

// RequestHandlerFunc adapts a plain function to RequestHandler.
type RequestHandlerFunc func(ctx *RequestContext, req *message.RemotingRequest) *message.RemotingResponse

func (f RequestHandlerFunc) Handle(ctx *RequestContext, req *message.RemotingRequest) *message.RemotingResponse {
	return f(ctx, req)
}

// RequestContext is the handler's view of the originating connection: its
// identity, and a way to push responses back on it later. A handler may
// return nil and reply through SendResponse once its work completes.
type RequestContext struct {
	conn       *transport.Conn
	remoteAddr string
}

// RemoteAddr identifies the connection the request arrived on.
func (rc *RequestContext) RemoteAddr() string {
	return rc.remoteAddr
}

// SendResponse writes resp on the originating connection. Usable at any
// point after the request arrived, including long after the handler
// returned.
func (rc *RequestContext) SendResponse(resp *message.RemotingResponse) error {
	frame := protocol.Encode(message.EncodeResponse(resp))
	return rc.conn.SendSync(frame)
}

// ConnInfo describes one accepted connection to the event listener.
type ConnInfo struct {
	RemoteAddr  string
	ConnectedAt time.Time
}

// EventListener observes connection lifecycle events. Each callback runs on
// its own goroutine, never on an accept or receive loop.
type EventListener interface {
	OnAccept(info ConnInfo)
	OnDisconnect(info ConnInfo)
	OnReceiveError(info ConnInfo, err error)
}

type ctxKey struct{}

func withRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// RequestContextFrom extracts the RequestContext a middleware's context
// carries. Returns nil when the context did not come from server dispatch.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ctxKey{}).(*RequestContext)
	return rc
}
