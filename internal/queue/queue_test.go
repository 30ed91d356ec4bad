package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := New(4)
	for i := 0; i < 3; i++ {
		if err := q.TryEnqueue([]byte{byte('a' + i)}); err != nil {
			t.Fatalf("TryEnqueue %d: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		item, err := q.Dequeue(time.Second)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if want := byte('a' + i); item[0] != want {
			t.Fatalf("item %d = %q, want %q", i, item, []byte{want})
		}
	}
}

func TestTryEnqueueFull(t *testing.T) {
	t.Parallel()

	q := New(4)
	for i := 0; i < 4; i++ {
		if err := q.TryEnqueue([]byte("x")); err != nil {
			t.Fatalf("TryEnqueue %d: %v", i, err)
		}
	}

	err := q.TryEnqueue([]byte("overflow"))
	if !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if q.Depth() != 4 || q.Cap() != 4 {
		t.Fatalf("depth/cap = %d/%d, want 4/4", q.Depth(), q.Cap())
	}
}

func TestDequeueTimeout(t *testing.T) {
	t.Parallel()

	q := New(1)
	start := time.Now()
	_, err := q.Dequeue(20 * time.Millisecond)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Dequeue returned after %v, expected to wait for the timeout", elapsed)
	}
}

func TestSingleDeliveryUnderConcurrentConsumers(t *testing.T) {
	t.Parallel()

	const items = 200
	const consumers = 8

	q := New(items)
	for i := 0; i < items; i++ {
		if err := q.TryEnqueue([]byte(fmt.Sprintf("item-%d", i))); err != nil {
			t.Fatalf("TryEnqueue %d: %v", i, err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int, items)

	var wg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.Dequeue(20 * time.Millisecond)
				if err != nil {
					return
				}
				mu.Lock()
				seen[string(item)]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != items {
		t.Fatalf("delivered %d distinct items, want %d", len(seen), items)
	}
	for item, count := range seen {
		if count != 1 {
			t.Fatalf("item %q delivered %d times", item, count)
		}
	}
}
