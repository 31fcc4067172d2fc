package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTickerFiresAfterDue(t *testing.T) {
	tk := NewTicker(nil)
	defer tk.Stop()

	fired := make(chan time.Time, 1)
	start := time.Now()
	tk.Schedule(func() {
		select {
		case fired <- time.Now():
		default:
		}
	}, 50*time.Millisecond, time.Hour)

	select {
	case at := <-fired:
		if at.Sub(start) < 50*time.Millisecond {
			t.Errorf("action fired after %s, sooner than the due delay", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("action never fired")
	}
}

func TestTickerRepeats(t *testing.T) {
	tk := NewTicker(nil)
	defer tk.Stop()

	var count atomic.Int32
	tk.Schedule(func() { count.Add(1) }, 10*time.Millisecond, 20*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for count.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 invocations, got %d", count.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTickerCancel(t *testing.T) {
	tk := NewTicker(nil)
	defer tk.Stop()

	var count atomic.Int32
	id := tk.Schedule(func() { count.Add(1) }, 10*time.Millisecond, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	tk.Cancel(id)
	settled := count.Load()

	time.Sleep(100 * time.Millisecond)
	if got := count.Load(); got > settled+1 {
		// One in-flight invocation may still land; more means the task
		// kept ticking after Cancel.
		t.Errorf("task fired %d times after cancel", got-settled)
	}
}

func TestTickerSerializesInvocations(t *testing.T) {
	tk := NewTicker(nil)
	defer tk.Stop()

	var (
		running    atomic.Int32
		maxRunning atomic.Int32
		ticks      atomic.Int32
	)
	tk.Schedule(func() {
		now := running.Add(1)
		if now > maxRunning.Load() {
			maxRunning.Store(now)
		}
		// Hold longer than the period so overlapping schedulers would
		// stack invocations.
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		ticks.Add(1)
	}, time.Millisecond, 5*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for ticks.Load() < 4 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 4 ticks, got %d", ticks.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if maxRunning.Load() > 1 {
		t.Errorf("invocations overlapped: max concurrency %d", maxRunning.Load())
	}
}

func TestTickerSurvivesPanic(t *testing.T) {
	tk := NewTicker(nil)
	defer tk.Stop()

	var count atomic.Int32
	tk.Schedule(func() {
		count.Add(1)
		panic("boom")
	}, time.Millisecond, 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for count.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("panicking task stopped ticking after %d invocations", count.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTickerOneShot(t *testing.T) {
	tk := NewTicker(nil)
	defer tk.Stop()

	var count atomic.Int32
	tk.Schedule(func() { count.Add(1) }, time.Millisecond, 0)

	time.Sleep(100 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Errorf("one-shot task fired %d times, want 1", got)
	}
}

func TestTickerStopPreventsNewTasks(t *testing.T) {
	tk := NewTicker(nil)
	tk.Stop()

	var count atomic.Int32
	tk.Schedule(func() { count.Add(1) }, time.Millisecond, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("stopped ticker ran a task %d times", got)
	}
}
