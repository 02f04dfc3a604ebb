package rainout

import (
	"sync"
	"sync/atomic"
)

// spscRing is a bounded lock-free single-producer/single-consumer ring.
// Push and Pop never block and never allocate; a full ring rejects the push
// and the producer decides whether the value may be dropped.
//
// No pack or ecosystem dependency offers a realtime-safe ring (Go channels
// take a runtime lock), so this is hand-rolled on sync/atomic.
type spscRing[T any] struct {
	buf  []T
	mask uint64

	// head is the next slot to pop, tail the next slot to push. Only the
	// consumer writes head, only the producer writes tail.
	head atomic.Uint64
	tail atomic.Uint64
}

// newSpscRing creates a ring holding at least capacity items, rounded up to
// a power of two.
func newSpscRing[T any](capacity int) *spscRing[T] {
	if capacity < 2 {
		capacity = 2
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &spscRing[T]{buf: make([]T, n), mask: uint64(n - 1)}
}

// push appends v. Reports false when the ring is full.
func (r *spscRing[T]) push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.buf)) {
		return false
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// pop removes the oldest item. Reports false when the ring is empty.
func (r *spscRing[T]) pop() (T, bool) {
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

// len returns the number of queued items. Approximate under concurrency.
func (r *spscRing[T]) len() int {
	return int(r.tail.Load() - r.head.Load())
}

// cmdQueue carries commands from non-realtime callers to the realtime
// consumer. Multiple producers (handle methods, the device monitor)
// serialize on a mutex; the realtime side pops lock-free.
type cmdQueue[T any] struct {
	mu   sync.Mutex
	ring *spscRing[T]
}

func newCmdQueue[T any](capacity int) *cmdQueue[T] {
	return &cmdQueue[T]{ring: newSpscRing[T](capacity)}
}

// push enqueues a command. Reports false when the queue is full.
func (q *cmdQueue[T]) push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.push(v)
}

// pop dequeues a command. Realtime-safe: no lock is taken.
func (q *cmdQueue[T]) pop() (T, bool) {
	return q.ring.pop()
}
