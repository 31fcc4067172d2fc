// Package server implements the answering side of the remoting pair: it
// accepts connections, reassembles frames, and dispatches each request to
// the handler registered for its code.
//
// Request processing pipeline:
//
//	Accept conn → connection goroutine (single reader parses and decodes frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → middleware chain → registered handler → encode → write reply
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/15001217168/ecommon/message"
	"github.com/15001217168/ecommon/middleware"
	"github.com/15001217168/ecommon/scheduler"
	"github.com/15001217168/ecommon/transport"
)

const (
	// DefaultLivenessPeriod is how often the connection map is checked
	// for dead entries.
	DefaultLivenessPeriod = 3000 * time.Millisecond
)

type options struct {
	bufferSize     int
	maxFrame       uint32
	livenessPeriod time.Duration
	maxIdle        time.Duration
	logger         *zap.Logger
	scheduler      scheduler.Scheduler
	events         EventListener
}

// Option customizes a Server.
type Option func(*options)

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithScheduler substitutes the scheduler driving the liveness check. When
// unset the server runs its own ticker and stops it at shutdown.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithReceiveBufferSize sets the per-connection receive scratch buffer.
func WithReceiveBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// WithMaxFrameBytes caps inbound frame bodies. Exceeding it closes the
// offending connection.
func WithMaxFrameBytes(n uint32) Option {
	return func(o *options) { o.maxFrame = n }
}

// WithLivenessPeriod tunes how often dead connections are reaped.
func WithLivenessPeriod(d time.Duration) Option {
	return func(o *options) { o.livenessPeriod = d }
}

// WithMaxIdle evicts connections that have received nothing for longer than
// d. Zero (the default) disables idle eviction; the liveness check then only
// reaps connections whose receive loop has already died.
func WithMaxIdle(d time.Duration) Option {
	return func(o *options) { o.maxIdle = d }
}

// WithEventListener registers the connection lifecycle observer.
func WithEventListener(l EventListener) Option {
	return func(o *options) { o.events = l }
}

// serverConn is one accepted connection plus the bookkeeping the liveness
// check reads.
type serverConn struct {
	conn         *transport.Conn
	info         ConnInfo
	lastReceived atomic.Int64 // unix nanoseconds of the latest inbound frame
}

func (sc *serverConn) touch() {
	sc.lastReceived.Store(time.Now().UnixNano())
}

// Server is the remoting server. Register handlers and middleware before
// calling Serve. Handler registration afterwards is still safe but races
// with in-flight dispatch only in the trivial last-wins sense; middleware
// added with Use after Serve is not applied, since Serve builds the chain
// once.
type Server struct {
	opts   options
	logger *zap.Logger

	handlerMu sync.RWMutex
	handlers  map[int32]RequestHandler

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	listener net.Listener
	conns    sync.Map // remote addr string → *serverConn

	sched        scheduler.Scheduler
	ownTicker    *scheduler.Ticker
	livenessTask scheduler.TaskID

	wg       sync.WaitGroup // in-flight requests, for graceful shutdown
	shutdown atomic.Bool
}

// NewServer creates a server with an empty handler registry.
func NewServer(opts ...Option) *Server {
	o := options{
		bufferSize:     transport.DefaultBufferSize,
		livenessPeriod: DefaultLivenessPeriod,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		opts:     o,
		logger:   o.logger,
		handlers: make(map[int32]RequestHandler),
		sched:    o.scheduler,
	}
	if s.sched == nil {
		s.ownTicker = scheduler.NewTicker(o.logger)
		s.sched = s.ownTicker
	}
	return s
}

// RegisterHandler binds code to handler. Last registration wins.
func (s *Server) RegisterHandler(code int32, handler RequestHandler) {
	s.handlerMu.Lock()
	s.handlers[code] = handler
	s.handlerMu.Unlock()
}

// Use appends a middleware. Middlewares wrap dispatch in registration order,
// first registered outermost.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// ListenAndServe listens on address ("host:port") and serves until Shutdown.
func (s *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown closes it. The
// middleware chain is built once here, not per request.
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
	s.livenessTask = s.sched.Schedule(s.checkConnections, s.opts.livenessPeriod, s.opts.livenessPeriod)

	s.logger.Info("server listening", zap.String("addr", listener.Addr().String()))
	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener, which surfaces here as an
			// accept error; report nil for that intentional case.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Addr returns the listening address, once Serve has been called.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConn owns one accepted connection: registers it, runs the receive
// loop in this goroutine, and dispatches each decoded request on its own
// goroutine so one slow handler never blocks the stream.
func (s *Server) handleConn(nc net.Conn) {
	sc := &serverConn{
		conn: transport.NewConn(nc),
		info: ConnInfo{
			RemoteAddr:  nc.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
	}
	sc.touch()
	s.conns.Store(sc.info.RemoteAddr, sc)
	s.notifyAccept(sc.info)

	recv := transport.NewReceiver(nc, s.opts.bufferSize, s.opts.maxFrame,
		func(body []byte) {
			sc.touch()
			s.handleFrame(sc, body)
		},
		func(err error) {
			s.dropConn(sc, err)
		})
	recv.Run()
}

// handleFrame decodes one inbound frame. A malformed body poisons the whole
// stream, so the connection is closed rather than resynchronized.
func (s *Server) handleFrame(sc *serverConn, body []byte) {
	req, err := message.DecodeRequest(body)
	if err != nil {
		s.logger.Error("malformed request frame, closing connection",
			zap.String("remote", sc.info.RemoteAddr),
			zap.Error(err))
		sc.conn.Close()
		return
	}
	go s.handleRequest(sc, req)
}

// handleRequest runs the middleware chain and writes the reply. One-way
// requests never get one; a nil handler response sends nothing either (the
// client's sweeper will expire the call).
func (s *Server) handleRequest(sc *serverConn, req *message.RemotingRequest) {
	s.wg.Add(1)
	defer s.wg.Done()

	rc := &RequestContext{
		conn:       sc.conn,
		remoteAddr: sc.info.RemoteAddr,
	}

	resp := s.safeHandle(rc, req)
	if req.Oneway || resp == nil {
		return
	}
	if err := rc.SendResponse(resp); err != nil {
		s.logger.Error("failed to write response",
			zap.String("remote", sc.info.RemoteAddr),
			zap.Uint64("sequence", req.Sequence),
			zap.Error(err))
	}
}

// safeHandle shields the connection from a panicking handler: the panic is
// logged and, for two-way requests, answered with SystemCodeHandlerError so
// the caller is not forced into a timeout.
func (s *Server) safeHandle(rc *RequestContext, req *message.RemotingRequest) (resp *message.RemotingResponse) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked",
				zap.Int32("code", req.Code),
				zap.Uint64("sequence", req.Sequence),
				zap.Any("panic", r))
			resp = &message.RemotingResponse{
				Sequence: req.Sequence,
				Code:     message.SystemCodeHandlerError,
				Payload:  []byte(fmt.Sprint(r)),
			}
		}
	}()
	return s.handler(withRequestContext(context.Background(), rc), req)
}

// dispatch is the innermost handler the middleware chain wraps: look the
// request code up in the registry and invoke. An unregistered code is logged
// and produces no response; the connection stays open.
func (s *Server) dispatch(ctx context.Context, req *message.RemotingRequest) *message.RemotingResponse {
	s.handlerMu.RLock()
	handler, ok := s.handlers[req.Code]
	s.handlerMu.RUnlock()
	if !ok {
		s.logger.Error("no handler registered for request code",
			zap.Int32("code", req.Code),
			zap.Uint64("sequence", req.Sequence))
		return nil
	}
	return handler.Handle(RequestContextFrom(ctx), req)
}

// dropConn removes a connection whose receive loop stopped. Removal from the
// map is what triggers the disconnect notification, so a racing liveness
// check and receive error produce exactly one.
func (s *Server) dropConn(sc *serverConn, err error) {
	sc.conn.Close()
	if _, loaded := s.conns.LoadAndDelete(sc.info.RemoteAddr); !loaded {
		return
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		s.logger.Error("connection receive error",
			zap.String("remote", sc.info.RemoteAddr),
			zap.Error(err))
		s.notifyReceiveError(sc.info, err)
	} else {
		s.logger.Info("connection closed",
			zap.String("remote", sc.info.RemoteAddr))
	}
	s.notifyDisconnect(sc.info)
}

// checkConnections is the periodic liveness sweep: it reaps connections
// whose socket has died and, when max idle is configured, ones that have
// gone silent too long.
func (s *Server) checkConnections() {
	now := time.Now()
	s.conns.Range(func(key, value any) bool {
		sc := value.(*serverConn)
		dead := sc.conn.Closed()
		if !dead && s.opts.maxIdle > 0 {
			idle := now.Sub(time.Unix(0, sc.lastReceived.Load()))
			dead = idle > s.opts.maxIdle
		}
		if !dead {
			return true
		}
		if _, loaded := s.conns.LoadAndDelete(key); loaded {
			sc.conn.Close()
			s.logger.Info("liveness check removed connection",
				zap.String("remote", sc.info.RemoteAddr))
			s.notifyDisconnect(sc.info)
		}
		return true
	})
}

// Shutdown stops accepting, closes every connection, and waits up to timeout
// for in-flight requests to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.shutdown.Swap(true) {
		return nil
	}
	s.sched.Cancel(s.livenessTask)
	if s.ownTicker != nil {
		s.ownTicker.Stop()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.conns.Range(func(key, value any) bool {
		if _, loaded := s.conns.LoadAndDelete(key); loaded {
			sc := value.(*serverConn)
			sc.conn.Close()
			s.notifyDisconnect(sc.info)
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for in-flight requests")
	}
}

// Listener callbacks each run on their own goroutine, per the contract that
// they never execute on an accept or receive loop.

func (s *Server) notifyAccept(info ConnInfo) {
	if s.opts.events == nil {
		return
	}
	go s.opts.events.OnAccept(info)
}

func (s *Server) notifyDisconnect(info ConnInfo) {
	if s.opts.events == nil {
		return
	}
	go s.opts.events.OnDisconnect(info)
}

func (s *Server) notifyReceiveError(info ConnInfo, err error) {
	if s.opts.events == nil {
		return
	}
	go s.opts.events.OnReceiveError(info, err)
}
