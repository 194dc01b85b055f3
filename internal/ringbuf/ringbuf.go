// Package ringbuf is the hand-off queue between the websocket read loop and
// the tick dispatcher. Exactly one goroutine pushes and exactly one pops, so
// the ring needs no lock: each side owns its own index and only loads the
// other's. A full ring drops the push and counts it instead of blocking the
// socket reader.
package ringbuf

import (
	"sync/atomic"

	"tmf-trader/internal/model"
)

const cacheLine = 64

// Ring buffers ticks between one producer and one consumer. Capacity is a
// power of two so index wrap is a mask.
type Ring struct {
	buf  []model.Tick
	mask uint64

	// wr and rd sit on their own cache lines; the producer writes wr and
	// the consumer writes rd.
	_    [cacheLine]byte
	wr   atomic.Uint64
	_    [cacheLine]byte
	rd   atomic.Uint64
	_    [cacheLine]byte
	drop atomic.Uint64
}

// New returns a ring holding at least capacity ticks, rounded up to the next
// power of two, never fewer than 2.
func New(capacity int) *Ring {
	n := ceilPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring{
		buf:  make([]model.Tick, n),
		mask: uint64(n - 1),
	}
}

// Push stores t and returns true, or returns false without storing when the
// ring is full. Producer side only.
func (r *Ring) Push(t model.Tick) bool {
	wr := r.wr.Load()
	if wr-r.rd.Load() >= uint64(len(r.buf)) {
		r.drop.Add(1)
		return false
	}
	r.buf[wr&r.mask] = t
	// the slot must be written before wr moves, or the consumer could
	// read a stale tick
	r.wr.Store(wr + 1)
	return true
}

// Pop returns the oldest buffered tick, or false when the ring is empty.
// Consumer side only.
func (r *Ring) Pop() (model.Tick, bool) {
	rd := r.rd.Load()
	if rd >= r.wr.Load() {
		return model.Tick{}, false
	}
	t := r.buf[rd&r.mask]
	r.rd.Store(rd + 1)
	return t, true
}

// Len reports how many ticks are currently buffered.
func (r *Ring) Len() int { return int(r.wr.Load() - r.rd.Load()) }

// Cap reports the rounded-up capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Overflow reports how many pushes were dropped against a full ring.
func (r *Ring) Overflow() uint64 { return r.drop.Load() }

func ceilPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
