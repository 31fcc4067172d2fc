// Package scheduler provides the periodic task primitive behind the client's
// timeout sweep and the server's connection liveness check.
//
// The contract matters more than the implementation: an action fires no
// sooner than its due delay, then approximately every period, and two
// invocations of the same action never overlap. Consumers that need a
// different execution model can supply their own Scheduler.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TaskID identifies a scheduled task for cancellation.
type TaskID uint64

// Scheduler runs an action after a delay and then periodically.
type Scheduler interface {
	// Schedule invokes action no sooner than due after the call, then
	// approximately every period. Invocations of one action are
	// serialized: a tick that fires while the previous invocation is
	// still running waits for it.
	Schedule(action func(), due, period time.Duration) TaskID

	// Cancel stops the task. The action is never invoked again after
	// Cancel returns, except for an invocation already in flight.
	Cancel(id TaskID)
}

// Ticker is the in-process Scheduler. Each task gets one goroutine that
// sleeps, fires, and repeats, which serializes that task's invocations for
// free. A panicking action is logged and the task keeps ticking.
type Ticker struct {
	logger *zap.Logger
	nextID atomic.Uint64

	mu      sync.Mutex
	stops   map[TaskID]chan struct{}
	stopped bool
}

// NewTicker creates a scheduler. A nil logger is replaced with a no-op one.
func NewTicker(logger *zap.Logger) *Ticker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{
		logger: logger,
		stops:  make(map[TaskID]chan struct{}),
	}
}

// Schedule implements Scheduler. A non-positive period makes the task
// one-shot: it fires once after due and stops.
func (t *Ticker) Schedule(action func(), due, period time.Duration) TaskID {
	id := TaskID(t.nextID.Add(1))
	stop := make(chan struct{})

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		close(stop)
		return id
	}
	t.stops[id] = stop
	t.mu.Unlock()

	go t.run(id, action, due, period, stop)
	return id
}

// Cancel implements Scheduler.
func (t *Ticker) Cancel(id TaskID) {
	t.mu.Lock()
	stop, ok := t.stops[id]
	if ok {
		delete(t.stops, id)
	}
	t.mu.Unlock()
	if ok {
		close(stop)
	}
}

// Stop cancels every task. The Ticker accepts no new work afterwards.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	stops := t.stops
	t.stops = make(map[TaskID]chan struct{})
	t.mu.Unlock()

	for _, stop := range stops {
		close(stop)
	}
}

func (t *Ticker) run(id TaskID, action func(), due, period time.Duration, stop chan struct{}) {
	timer := time.NewTimer(due)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-stop:
		return
	}
	t.invoke(id, action)

	if period <= 0 {
		t.Cancel(id)
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.invoke(id, action)
		case <-stop:
			return
		}
	}
}

// invoke shields the tick loop from a panicking action so the task survives
// to its next tick.
func (t *Ticker) invoke(id TaskID, action func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("scheduled task panicked",
				zap.Uint64("task", uint64(id)),
				zap.Any("panic", r))
		}
	}()
	action()
}
