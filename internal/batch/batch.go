// Package batch implements the batch-accumulating multi-producer sender
// and a counting wrapper around a bounded channel of batches.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Sender accumulates items from any number of concurrent producers into
// fixed-size batches and forwards each full batch downstream. A single
// struct is shared by all producers; Add and Drop are safe to call
// concurrently.
type Sender[T any] struct {
	threshold int
	send      func([]T)

	mu      sync.Mutex
	buf     []T
	flushMu sync.Mutex
}

// New creates a Sender that forwards full batches directly to out once its
// buffer reaches threshold items.
func New[T any](threshold int, out chan<- []T) *Sender[T] {
	return newSender(threshold, func(b []T) { out <- b })
}

// NewCounting creates a Sender that forwards full batches through counting,
// so progress observers can read how many items have been sent.
func NewCounting[T any](threshold int, counting *CountingSender[T]) *Sender[T] {
	return newSender(threshold, counting.Send)
}

func newSender[T any](threshold int, send func([]T)) *Sender[T] {
	if threshold <= 0 {
		threshold = 1
	}
	return &Sender[T]{threshold: threshold, send: send}
}

// Add appends item to the buffer. If the buffer length reaches the
// threshold, a non-waiting flush is triggered.
func (s *Sender[T]) Add(item T) {
	s.mu.Lock()
	s.buf = append(s.buf, item)
	shouldFlush := len(s.buf) >= s.threshold
	s.mu.Unlock()

	if shouldFlush {
		s.flush(false)
	}
}

// flush drains the whole buffer as it stands once the flush lock is held
// and forwards it as a single batch. When wait is false, a flush already in
// progress causes this call to return immediately without draining; the
// items it leaves stay buffered for a later flush or Drop. When wait is
// true, this call blocks until it obtains the flush lock, guaranteeing every
// item added before the call has been forwarded by the time it returns.
func (s *Sender[T]) flush(wait bool) {
	if wait {
		s.flushMu.Lock()
	} else if !s.flushMu.TryLock() {
		return
	}
	defer s.flushMu.Unlock()

	s.mu.Lock()
	drained := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(drained) == 0 {
		return
	}
	s.send(drained)
}

// Drop performs a waited flush: every item accepted by Add before Drop is
// called is guaranteed to be forwarded in exactly one batch before Drop
// returns. Call this once a producer is done adding items.
func (s *Sender[T]) Drop() {
	s.flush(true)
}

// CountingSender wraps a bounded channel of batches so that sending a batch
// atomically adds its length to a shared counter, letting progress
// observers read "items scanned" without probing the channel's queue
// length. The held context unblocks a send whose consumer has already shut
// down; batches are discarded after cancellation.
type CountingSender[T any] struct {
	ctx     context.Context
	out     chan<- []T
	counter *atomic.Int64
}

// NewCountingSender wraps out with counter.
func NewCountingSender[T any](ctx context.Context, out chan<- []T, counter *atomic.Int64) *CountingSender[T] {
	return &CountingSender[T]{ctx: ctx, out: out, counter: counter}
}

// Send forwards batch to the wrapped channel and adds its length to the
// counter, unless the context has been canceled.
func (c *CountingSender[T]) Send(batch []T) {
	select {
	case c.out <- batch:
		c.counter.Add(int64(len(batch)))
	case <-c.ctx.Done():
	}
}
