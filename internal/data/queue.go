package data

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueFull is returned by Push when the queue stayed at capacity for the whole wait.
	ErrQueueFull = errors.New("queue: full; push timed out")
	// ErrQueueEmpty is returned by Pop when no item arrived before the context expired.
	ErrQueueEmpty = errors.New("queue: empty; pop deadline exceeded")
)

// DefaultQueueCapacity is used when a queue is created with a non-positive capacity.
const DefaultQueueCapacity = 1024

// FIFOQueue is a bounded first-in first-out handoff of frame payloads. Any number of goroutines
// may push concurrently; it is intended to be drained by a single consumer. Items are popped in
// the order their pushes completed.
type FIFOQueue struct {
	items chan []byte
}

// NewFIFOQueue creates a queue holding at most capacity payloads.
func NewFIFOQueue(capacity int) *FIFOQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	return &FIFOQueue{items: make(chan []byte, capacity)}
}

// Push enqueues a payload, waiting up to timeout for room. A non-positive timeout makes the push
// non-blocking. It returns ErrQueueFull if the payload could not be enqueued in time; the payload
// is then dropped by the caller.
func (q *FIFOQueue) Push(payload []byte, timeout time.Duration) error {
	select {
	case q.items <- payload:
		return nil
	default:
	}

	if timeout <= 0 {
		return ErrQueueFull
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.items <- payload:
		return nil
	case <-timer.C:
		return ErrQueueFull
	}
}

// Pop blocks until a payload is available or ctx is done, in which case it returns
// ErrQueueEmpty. Waiting and dequeuing are a single operation, so no item can slip between an
// emptiness check and the pop.
func (q *FIFOQueue) Pop(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-q.items:
		return payload, nil
	default:
	}

	select {
	case payload := <-q.items:
		return payload, nil
	case <-ctx.Done():
		return nil, ErrQueueEmpty
	}
}

// PopTimeout is a convenience wrapper around Pop with a relative deadline.
func (q *FIFOQueue) PopTimeout(timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return q.Pop(ctx)
}

// TryPop dequeues a payload only if one is immediately available.
func (q *FIFOQueue) TryPop() ([]byte, bool) {
	select {
	case payload := <-q.items:
		return payload, true
	default:
		return nil, false
	}
}

// Drain discards every payload currently queued and returns how many were discarded.
func (q *FIFOQueue) Drain() int {
	n := 0
	for {
		if _, ok := q.TryPop(); !ok {
			return n
		}
		n++
	}
}

// Len reports the number of queued payloads. It is a snapshot for metrics only.
func (q *FIFOQueue) Len() int {
	return len(q.items)
}

// Capacity reports the maximum number of queued payloads.
func (q *FIFOQueue) Capacity() int {
	return cap(q.items)
}
