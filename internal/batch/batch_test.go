package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func drainAll(t *testing.T, ch <-chan []int) []int {
	t.Helper()
	var all []int
	for batch := range ch {
		all = append(all, batch...)
	}
	return all
}

func TestSendsNothing(t *testing.T) {
	out := make(chan []int, 10)
	s := New[int](4, out)
	s.Drop()
	close(out)
	if got := drainAll(t, out); len(got) != 0 {
		t.Fatalf("expected no items, got %v", got)
	}
}

func TestSendsExactBatchSize(t *testing.T) {
	out := make(chan []int, 10)
	s := New[int](4, out)
	for i := 0; i < 4; i++ {
		s.Add(i)
	}
	s.Drop()
	close(out)
	got := drainAll(t, out)
	if len(got) != 4 {
		t.Fatalf("expected 4 items, got %d", len(got))
	}
}

func TestSendsMultipleBatches(t *testing.T) {
	out := make(chan []int, 10)
	s := New[int](4, out)
	for i := 0; i < 10; i++ {
		s.Add(i)
	}
	s.Drop()
	close(out)
	got := drainAll(t, out)
	if len(got) != 10 {
		t.Fatalf("expected 10 items, got %d", len(got))
	}
}

func TestEndsAtBatchSizeMultiple(t *testing.T) {
	out := make(chan []int, 10)
	s := New[int](5, out)
	for i := 0; i < 15; i++ {
		s.Add(i)
	}
	s.Drop()
	close(out)
	got := drainAll(t, out)
	if len(got) != 15 {
		t.Fatalf("expected 15 items, got %d", len(got))
	}
}

// TestMultipleThreads verifies the exactly-once delivery property under
// concurrent producers: every item accepted by Add ends up in exactly one
// outgoing batch, with no loss and no duplication.
func TestMultipleThreads(t *testing.T) {
	const producers = 8
	const perProducer = 500
	out := make(chan []int, producers*perProducer)
	s := New[int](16, out)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Add(p*perProducer + i)
			}
		}()
	}
	wg.Wait()
	s.Drop()
	close(out)

	seen := make(map[int]bool, producers*perProducer)
	for batch := range out {
		for _, v := range batch {
			if seen[v] {
				t.Fatalf("item %d delivered more than once", v)
			}
			seen[v] = true
		}
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("expected %d items, saw %d", producers*perProducer, len(seen))
	}
}

func TestCountingSender(t *testing.T) {
	out := make(chan []int, 10)
	var counter atomic.Int64
	cs := NewCountingSender[int](context.Background(), out, &counter)
	cs.Send([]int{1, 2, 3})
	cs.Send([]int{4, 5})
	close(out)
	if got := counter.Load(); got != 5 {
		t.Fatalf("expected counter 5, got %d", got)
	}
}

func TestCountingSenderUnblocksOnCancel(t *testing.T) {
	out := make(chan []int) // unbuffered, nobody receiving
	var counter atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cs := NewCountingSender[int](ctx, out, &counter)
	cs.Send([]int{1, 2, 3}) // must return instead of blocking
	if got := counter.Load(); got != 0 {
		t.Fatalf("expected dropped batch to go uncounted, got %d", got)
	}
}

func TestCountingSenderThroughBatchSender(t *testing.T) {
	out := make(chan []int, 10)
	var counter atomic.Int64
	s := NewCounting[int](4, NewCountingSender[int](context.Background(), out, &counter))
	for i := 0; i < 10; i++ {
		s.Add(i)
	}
	s.Drop()
	close(out)
	if got := drainAll(t, out); len(got) != 10 {
		t.Fatalf("expected 10 items delivered, got %d", len(got))
	}
	if got := counter.Load(); got != 10 {
		t.Fatalf("expected counter 10, got %d", got)
	}
}
