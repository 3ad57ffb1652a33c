// Package queue implements the bounded single-producer/single-consumer
// queue of audio buffers used between a file worker thread and the graph
// (spec 4.2). It is never used on the real-time callback path — only
// between threads that are allowed to block.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/oscmex/engine/internal/audiograph/buffer"
)

var ErrClosed = errors.New("queue: closed")
var ErrTimeout = errors.New("queue: timeout")

// Queue is a FIFO of *buffer.Buffer with a configurable high-water mark.
// Blocking Push waits while full; blocking Pop waits while empty. Close
// unblocks both sides and drains, releasing any buffers still queued back
// to their pool.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	items    []*buffer.Buffer
	capacity int
	closed   bool
}

func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push blocks until there is room, the queue is closed, or an item is
// accepted. It returns ErrClosed if the queue was already closed.
func (q *Queue) Push(b *buffer.Buffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, b)
	q.notEmpty.Signal()
	return nil
}

// TryPush pushes without blocking; it reports false if the queue is full or
// closed (spec: "backpressure").
func (q *Queue) TryPush(b *buffer.Buffer) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, b)
	q.notEmpty.Signal()
	return true
}

// Pop blocks until an item is available or the queue is closed and
// drained.
func (q *Queue) Pop() (*buffer.Buffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, ErrClosed
	}
	return q.popLocked(), nil
}

// TryPopTimeout pops within a deadline, returning ErrTimeout if none
// arrives in time. Used by the file sink to discard queued blocks after a
// write error and, with a zero timeout, by the file source's non-blocking
// pop in callback mode.
func (q *Queue) TryPopTimeout(timeout time.Duration) (*buffer.Buffer, error) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		q.notEmpty.Wait()
		timer.Stop()
		if time.Now().After(deadline) && len(q.items) == 0 {
			return nil, ErrTimeout
		}
	}
	if len(q.items) == 0 {
		return nil, ErrClosed
	}
	return q.popLocked(), nil
}

func (q *Queue) popLocked() *buffer.Buffer {
	b := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return b
}

// Close unblocks any waiting Push/Pop and releases every still-queued
// buffer back to its pool (spec 4.2: "drained buffers are released to the
// pool").
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, b := range q.items {
		b.Release()
	}
	q.items = nil
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
