// Package client implements the requesting side of the remoting pair: it
// multiplexes any number of concurrent invocations over one TCP connection,
// correlating responses to callers by sequence number.
//
//	goroutine-1 ──InvokeSync(seq=1)──┐
//	goroutine-2 ──InvokeAsync(seq=2)─┼──→ single TCP conn ──→ server
//	goroutine-3 ──InvokeOneway───────┘
//
//	receive loop: ←── response(seq=2) → pending table → future → caller wakes
//
// A periodic sweep reclaims calls whose deadline passed without a response,
// so a dead peer never leaks table entries or blocks a caller forever.
package client

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/15001217168/ecommon/message"
	"github.com/15001217168/ecommon/protocol"
	"github.com/15001217168/ecommon/scheduler"
	"github.com/15001217168/ecommon/transport"
)

const (
	// DefaultScanPeriod is how often the timeout sweep runs.
	DefaultScanPeriod = 1000 * time.Millisecond
	// DefaultScanDelay is how long after startup the first sweep fires.
	DefaultScanDelay = 3000 * time.Millisecond
	// DefaultDialTimeout bounds the TCP connect at construction.
	DefaultDialTimeout = 5 * time.Second
)

type options struct {
	bufferSize  int
	maxFrame    uint32
	scanPeriod  time.Duration
	scanDelay   time.Duration
	dialTimeout time.Duration
	logger      *zap.Logger
	scheduler   scheduler.Scheduler
}

// Option customizes a Client.
type Option func(*options)

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithScheduler substitutes the scheduler driving the timeout sweep. The
// client assumes the scheduler serializes invocations of one action. When
// unset the client runs its own ticker and stops it at shutdown.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithReceiveBufferSize sets the receive scratch buffer in bytes.
func WithReceiveBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// WithMaxFrameBytes caps inbound frame bodies. Exceeding it closes the
// connection.
func WithMaxFrameBytes(n uint32) Option {
	return func(o *options) { o.maxFrame = n }
}

// WithScanInterval tunes the timeout sweep: first fire after delay, then
// every period.
func WithScanInterval(delay, period time.Duration) Option {
	return func(o *options) {
		o.scanDelay = delay
		o.scanPeriod = period
	}
}

// WithDialTimeout bounds the TCP connect performed by NewClient.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// Client is a remoting client bound to one peer over one TCP connection.
// All methods are safe for concurrent use.
type Client struct {
	addr   string
	conn   *transport.Conn
	table  *pendingTable
	seq    atomic.Uint64
	logger *zap.Logger

	sched     scheduler.Scheduler
	ownTicker *scheduler.Ticker
	sweepTask scheduler.TaskID

	closed atomic.Bool
}

// NewClient connects to addr ("host:port"), starts the receive loop, and
// schedules the timeout sweep.
func NewClient(addr string, opts ...Option) (*Client, error) {
	o := options{
		bufferSize:  transport.DefaultBufferSize,
		scanPeriod:  DefaultScanPeriod,
		scanDelay:   DefaultScanDelay,
		dialTimeout: DefaultDialTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	nc, err := net.DialTimeout("tcp", addr, o.dialTimeout)
	if err != nil {
		return nil, &SendError{Addr: addr, Err: err}
	}

	c := &Client{
		addr:   addr,
		conn:   transport.NewConn(nc),
		table:  &pendingTable{},
		logger: o.logger,
		sched:  o.scheduler,
	}
	if c.sched == nil {
		c.ownTicker = scheduler.NewTicker(o.logger)
		c.sched = c.ownTicker
	}

	recv := transport.NewReceiver(nc, o.bufferSize, o.maxFrame, c.onFrame, c.onReceiveError)
	go recv.Run()

	c.sweepTask = c.sched.Schedule(c.scanTimeoutRequests, o.scanDelay, o.scanPeriod)
	return c, nil
}

// Addr returns the peer address this client was built for.
func (c *Client) Addr() string {
	return c.addr
}

// InvokeSync sends a request for code and blocks until the response arrives
// or timeout elapses. Exactly one of response, TimeoutError, or SendError is
// observed per call.
func (c *Client) InvokeSync(code int32, payload []byte, timeout time.Duration) (*message.RemotingResponse, error) {
	f, err := c.register(code, payload, timeout)
	if err != nil {
		return nil, err
	}
	return f.Result(timeout)
}

// InvokeAsync sends a request for code and returns its future immediately.
// The caller observes the same three outcomes as InvokeSync through the
// future's Done channel and Result.
func (c *Client) InvokeAsync(code int32, payload []byte, timeout time.Duration) (*ResponseFuture, error) {
	return c.register(code, payload, timeout)
}

// InvokeOneway sends a fire-and-forget request: no pending-call entry, no
// response, no wait beyond the write itself. A failed write surfaces as a
// SendError.
func (c *Client) InvokeOneway(code int32, payload []byte) error {
	if c.closed.Load() {
		return &SendError{Addr: c.addr, Err: ErrClientClosed}
	}
	req := message.NewRequest(code, payload)
	req.Sequence = c.seq.Add(1)
	req.Oneway = true

	frame := protocol.Encode(message.EncodeRequest(req))
	if err := c.conn.SendSync(frame); err != nil {
		return &SendError{Addr: c.addr, Err: err}
	}
	return nil
}

// register builds the request, parks its future in the pending table, and
// hands the frame to the connection. The table entry goes in before the
// write so a fast response can never beat its own bookkeeping.
func (c *Client) register(code int32, payload []byte, timeout time.Duration) (*ResponseFuture, error) {
	if c.closed.Load() {
		return nil, &SendError{Addr: c.addr, Err: ErrClientClosed}
	}
	req := message.NewRequest(code, payload)
	req.Sequence = c.seq.Add(1)

	f := newFuture(c.addr, req, timeout, time.Now())
	if !c.table.insert(req.Sequence, f) {
		return nil, &DuplicateSequenceError{Sequence: req.Sequence}
	}

	frame := protocol.Encode(message.EncodeRequest(req))
	c.conn.Send(frame, func(res transport.SendResult) {
		c.onSendComplete(req.Sequence, f, res)
	})
	return f, nil
}

// onSendComplete records the write outcome on the future. On failure it also
// removes the table entry and finishes the future; a concurrently arriving
// response or sweep may have won the entry already, in which case this is a
// no-op.
func (c *Client) onSendComplete(seq uint64, f *ResponseFuture, res transport.SendResult) {
	f.markSendResult(res.Err)
	if res.Err == nil {
		return
	}
	if taken, ok := c.table.take(seq); ok {
		taken.complete(nil)
	}
}

// onFrame routes one inbound frame to the caller waiting on its sequence.
// A response whose entry is gone (reclaimed by the sweeper) is logged and
// dropped; it must not disturb other calls.
func (c *Client) onFrame(body []byte) {
	resp, err := message.DecodeResponse(body)
	if err != nil {
		c.logger.Error("malformed response frame, closing connection",
			zap.String("addr", c.addr),
			zap.Error(err))
		c.conn.Close()
		return
	}
	f, ok := c.table.take(resp.Sequence)
	if !ok {
		c.logger.Error("response matches no pending request",
			zap.String("addr", c.addr),
			zap.Uint64("sequence", resp.Sequence))
		return
	}
	f.complete(resp)
}

// onReceiveError fires when the receive loop stops. Every pending call is
// failed so no caller blocks waiting on a dead connection, and the socket is
// closed so later sends fail fast.
func (c *Client) onReceiveError(err error) {
	c.conn.Close()
	if c.closed.Load() {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		c.logger.Info("connection closed by peer", zap.String("addr", c.addr))
	} else {
		c.logger.Error("receive loop stopped",
			zap.String("addr", c.addr),
			zap.Error(err))
	}
	for _, f := range c.table.drain() {
		f.fail(transport.ErrConnClosed)
	}
}

// scanTimeoutRequests is the sweep the scheduler drives: every call whose
// deadline passed is removed and completed with no response, which a sync
// waiter reports as a TimeoutError.
func (c *Client) scanTimeoutRequests() {
	expired := c.table.sweep(time.Now())
	for _, f := range expired {
		f.complete(nil)
		c.logger.Debug("pending request expired",
			zap.String("addr", c.addr),
			zap.Uint64("sequence", f.req.Sequence),
			zap.Int32("code", f.req.Code),
			zap.Duration("timeout", f.timeout))
	}
}

// Shutdown stops the sweep, closes the connection, and fails every
// outstanding call with ErrClientClosed so no caller stays blocked. Safe to
// call more than once.
func (c *Client) Shutdown() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.sched.Cancel(c.sweepTask)
	if c.ownTicker != nil {
		c.ownTicker.Stop()
	}
	err := c.conn.Close()
	for _, f := range c.table.drain() {
		f.fail(ErrClientClosed)
	}
	return err
}
