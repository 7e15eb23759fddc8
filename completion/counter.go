package completion

import (
	"sync"
	"sync/atomic"
)

// Counter is the number of outstanding callbacks of a batch. It only ever
// decreases and never goes below zero.
type Counter struct {
	remaining atomic.Int64
	done      chan struct{}
	doneOnce  sync.Once
}

// NewCounter returns a counter expecting n callbacks. Negative n is treated
// as zero.
func NewCounter(n int64) *Counter {
	if n < 0 {
		n = 0
	}
	c := &Counter{done: make(chan struct{})}
	c.remaining.Store(n)
	if n == 0 {
		c.doneOnce.Do(func() { close(c.done) })
	}
	return c
}

// Decrement removes one outstanding callback. It returns false, leaving the
// counter untouched, if nothing was outstanding.
func (c *Counter) Decrement() bool {
	for {
		cur := c.remaining.Load()
		if cur <= 0 {
			return false
		}
		if c.remaining.CompareAndSwap(cur, cur-1) {
			if cur == 1 {
				c.doneOnce.Do(func() { close(c.done) })
			}
			return true
		}
	}
}

// Remaining returns the number of outstanding callbacks.
func (c *Counter) Remaining() int64 {
	return c.remaining.Load()
}

// Done is closed once no callbacks are outstanding.
func (c *Counter) Done() <-chan struct{} {
	return c.done
}
