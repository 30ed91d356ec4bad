package queue

import (
	"errors"
	"time"
)

var (
	// ErrFull is returned by TryEnqueue when the queue is at capacity.
	ErrFull = errors.New("queue is full")

	// ErrEmpty is returned by Dequeue when no item arrived within the timeout.
	ErrEmpty = errors.New("queue is empty")
)

// Queue is a fixed-capacity FIFO between the stream reader and the workers.
// The producer side never blocks; consumers poll with a timeout so they get a
// regular chance to re-check liveness. A buffered channel gives single
// delivery and arrival ordering for free.
type Queue struct {
	ch chan []byte
}

// New creates a queue holding at most depth items.
func New(depth int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	return &Queue{ch: make(chan []byte, depth)}
}

// TryEnqueue adds item without blocking. Returns ErrFull at capacity.
func (q *Queue) TryEnqueue(item []byte) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue removes the oldest item, waiting up to timeout for one to arrive.
// Returns ErrEmpty when the timeout expires.
func (q *Queue) Dequeue(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-q.ch:
		return item, nil
	case <-timer.C:
		return nil, ErrEmpty
	}
}

// Depth returns the number of queued items.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
