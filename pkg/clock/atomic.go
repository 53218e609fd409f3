// Package clock provides a small lock-free monotonic counter, used for
// sequence numbers and, in this module, for segment id allocation.
package clock

import "sync/atomic"

// AtomicClock is a monotonically increasing uint64 counter safe for
// concurrent use, though corelog only ever touches it from its single
// writer goroutine.
type AtomicClock struct {
	atomic.Uint64
}

func NewAtomic(init uint64) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

func (ac *AtomicClock) Val() uint64 {
	return ac.Load()
}

func (ac *AtomicClock) Next() uint64 {
	return ac.Add(1)
}

func (ac *AtomicClock) Set(t uint64) {
	ac.Store(t)
}
