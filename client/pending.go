package client

import (
	"sync"
	"time"
)

// pendingTable maps in-flight sequence numbers to their futures. Insert,
// take, and sweep are individually atomic; the at-most-once completion
// guarantee rests on take/sweep both going through LoadAndDelete, so exactly
// one of the racing producers ever holds a given future.
type pendingTable struct {
	m sync.Map // uint64 → *ResponseFuture
}

// insert registers f under seq. Returns false if seq is already present, in
// which case the table is left untouched.
func (t *pendingTable) insert(seq uint64, f *ResponseFuture) bool {
	_, loaded := t.m.LoadOrStore(seq, f)
	return !loaded
}

// take removes and returns the future for seq, if the caller won the race
// for it.
func (t *pendingTable) take(seq uint64) (*ResponseFuture, bool) {
	v, loaded := t.m.LoadAndDelete(seq)
	if !loaded {
		return nil, false
	}
	return v.(*ResponseFuture), true
}

// sweep removes and returns every entry whose deadline has passed. An entry
// a concurrent take grabbed between enumeration and removal is not returned:
// LoadAndDelete reports whether this call was the one that removed it.
func (t *pendingTable) sweep(now time.Time) []*ResponseFuture {
	var expired []*ResponseFuture
	t.m.Range(func(key, value any) bool {
		f := value.(*ResponseFuture)
		if !f.expired(now) {
			return true
		}
		if _, loaded := t.m.LoadAndDelete(key); loaded {
			expired = append(expired, f)
		}
		return true
	})
	return expired
}

// drain removes and returns everything still pending. Used at shutdown and
// on connection loss.
func (t *pendingTable) drain() []*ResponseFuture {
	var all []*ResponseFuture
	t.m.Range(func(key, value any) bool {
		if _, loaded := t.m.LoadAndDelete(key); loaded {
			all = append(all, value.(*ResponseFuture))
		}
		return true
	})
	return all
}
