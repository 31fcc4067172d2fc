package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/15001217168/ecommon/protocol"
)

func TestConnConcurrentSendsDoNotInterleave(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()

	conn := NewConn(left)
	defer conn.Close()

	const senders = 8
	const perSender = 20

	// Parse everything arriving on the peer side back into frames.
	var (
		mu     sync.Mutex
		frames [][]byte
		done   = make(chan struct{})
	)
	recv := NewReceiver(right, 64, 0,
		func(body []byte) {
			mu.Lock()
			frames = append(frames, body)
			mu.Unlock()
		},
		func(err error) { close(done) })
	go recv.Run()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				body := bytes.Repeat([]byte{byte(id)}, 100+id)
				if err := conn.SendSync(protocol.Encode(body)); err != nil {
					t.Errorf("send failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	left.Close()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(frames) != senders*perSender {
		t.Fatalf("expected %d frames, got %d", senders*perSender, len(frames))
	}
	// Interleaved writes would produce a frame whose bytes are not all the
	// same sender id, or desync the stream entirely.
	for _, f := range frames {
		if len(f) < 100 {
			t.Fatalf("frame shorter than any sender writes: %d bytes", len(f))
		}
		id := f[0]
		if len(f) != 100+int(id) {
			t.Fatalf("frame length %d does not match sender %d", len(f), id)
		}
		for _, b := range f {
			if b != id {
				t.Fatal("frame carries bytes from two senders")
			}
		}
	}
}

func TestConnSendCompletionCallback(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()
	go io.Copy(io.Discard, right)

	conn := NewConn(left)
	defer conn.Close()

	results := make(chan SendResult, 1)
	conn.Send(protocol.Encode([]byte("payload")), func(res SendResult) {
		results <- res
	})

	select {
	case res := <-results:
		if !res.Success || res.Err != nil {
			t.Errorf("expected successful send, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestConnSendAfterClose(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()

	conn := NewConn(left)
	conn.Close()

	results := make(chan SendResult, 1)
	conn.Send([]byte("late"), func(res SendResult) {
		results <- res
	})

	select {
	case res := <-results:
		if res.Success {
			t.Error("send after close reported success")
		}
		if !errors.Is(res.Err, ErrConnClosed) {
			t.Errorf("expected ErrConnClosed, got %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}

	if err := conn.SendSync([]byte("late")); !errors.Is(err, ErrConnClosed) {
		t.Errorf("expected ErrConnClosed from SendSync, got %v", err)
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()

	conn := NewConn(left)
	if err := conn.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if !conn.Closed() {
		t.Error("Closed() should report true after Close")
	}
}
