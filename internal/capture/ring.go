package capture

import "sync/atomic"

// Ring is a fixed-capacity single-producer/single-consumer queue of raw
// capture records. The producer never blocks: a push against a full ring is
// dropped and counted. Capacity is fixed at construction and rounded up to a
// power of two.
//
// Exactly one goroutine may call Push and exactly one may call Pop; under
// that contract no locking is required beyond the atomic cursors.
type Ring struct {
	buf   [][]byte
	mask  uint64
	head  atomic.Uint64 // consumer cursor
	tail  atomic.Uint64 // producer cursor
	drops atomic.Uint64
}

// NewRing creates a ring holding at least capacity records.
func NewRing(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Ring{
		buf:  make([][]byte, size),
		mask: uint64(size - 1),
	}
}

// Push enqueues one record. Returns false (and counts a drop) when the ring
// is full.
func (r *Ring) Push(rec []byte) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.buf)) {
		r.drops.Add(1)
		return false
	}
	r.buf[tail&r.mask] = rec
	r.tail.Store(tail + 1)
	return true
}

// Pop dequeues the oldest record, or returns false when the ring is empty.
func (r *Ring) Pop() ([]byte, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return nil, false
	}
	rec := r.buf[head&r.mask]
	r.buf[head&r.mask] = nil
	r.head.Store(head + 1)
	return rec, true
}

// Len reports the number of records currently queued.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Capacity reports the fixed record capacity.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Drops reports how many records were discarded against a full ring.
func (r *Ring) Drops() uint64 {
	return r.drops.Load()
}
