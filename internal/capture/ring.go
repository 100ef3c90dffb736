// Package capture implements the CaptureAgent side of EyeD: a lock-free
// SPSC ring buffer between the frame producer and the gRPC streamer, a
// quality gate, and a reconnecting streaming client.
package capture

import (
	"sync/atomic"
)

// Ring is a single-producer single-consumer lock-free ring buffer of
// untyped payloads (the directory source pushes *pb.CaptureFrame values).
// Capacity is a power of two; TryPush refuses the incoming item rather
// than blocking or overwriting an unread entry when full.
type Ring struct {
	buf  []atomic.Pointer[any]
	mask uint64
	head atomic.Uint64 // next write index, producer-owned
	tail atomic.Uint64 // next read index, consumer-owned
}

// NewRing creates a Ring of the given capacity, rounded up to the next
// power of two.
func NewRing(capacity int) *Ring {
	cap64 := nextPowerOfTwo(capacity)
	r := &Ring{
		buf:  make([]atomic.Pointer[any], cap64),
		mask: cap64 - 1,
	}
	return r
}

func nextPowerOfTwo(n int) uint64 {
	if n < 1 {
		n = 1
	}
	v := uint64(n - 1)
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// TryPush stores item and reports whether it was accepted. A full ring
// refuses the incoming frame rather than overwriting an unread slot:
// oldest-preserving, the producer drops the newest frame on overflow.
// Never blocks.
func (r *Ring) TryPush(item any) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		return false
	}

	idx := head & r.mask
	r.buf[idx].Store(&item)
	r.head.Store(head + 1)
	return true
}

// TryPop removes and returns the oldest item, or (nil, false) if empty.
// Never blocks.
func (r *Ring) TryPop() (any, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail >= head {
		return nil, false
	}

	idx := tail & r.mask
	ptr := r.buf[idx].Load()
	if ptr == nil {
		return nil, false
	}
	r.tail.Store(tail + 1)
	return *ptr, true
}

// Len reports the approximate number of buffered items (may be stale
// under concurrent access; intended for metrics only).
func (r *Ring) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}
