package audio

import "sync/atomic"

// Ring is a bounded single-producer single-consumer queue. Push must only be
// called from one goroutine (or audio callback) and Pop from one other; neither
// blocks nor takes a lock.
type Ring[T any] struct {
	buf  []T
	mask uint64
	head atomic.Uint64 // next slot to pop; written by the consumer
	tail atomic.Uint64 // next slot to push; written by the producer
}

// NewRing returns a ring whose capacity is capacity rounded up to a power of two.
func NewRing[T any](capacity int) *Ring[T] {
	size := uint64(1)
	for size < uint64(max(capacity, 1)) {
		size <<= 1
	}
	return &Ring[T]{buf: make([]T, size), mask: size - 1}
}

// Push appends v and reports false when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() == uint64(len(r.buf)) {
		return false
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	v := r.buf[head&r.mask]
	r.buf[head&r.mask] = zero
	r.head.Store(head + 1)
	return v, true
}

// Len is a snapshot; it may be stale by the time it is used.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

func (r *Ring[T]) Cap() int { return len(r.buf) }
