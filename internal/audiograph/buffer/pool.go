package buffer

import "fmt"

// Pool is a fixed-capacity set of Buffers that all share one Shape.
// Acquire and the final Release neither block nor allocate, so they're
// safe to call from the real-time audio callback. Acquire is
// constant-time; the final Release finds the buffer's slot by a linear
// scan over all slots, so it costs O(capacity). On exhaustion, Acquire
// fails rather than falling back to allocation (spec 4.1: "fails rather
// than allocates").
type Pool struct {
	shape Shape
	free  chan *slot
	slots []slot
}

type slot struct {
	buf  *Buffer
	refs int32
}

// NewPool allocates `capacity` buffers of the given shape up front. Per
// spec 3, the caller is expected to size capacity to at least the maximum
// number of buffers in flight across every edge in the graph, plus 2.
func NewPool(shape Shape, capacity int) (*Pool, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer: pool capacity must be > 0, got %d", capacity)
	}

	p := &Pool{
		shape: shape,
		free:  make(chan *slot, capacity),
		slots: make([]slot, capacity),
	}
	for i := range p.slots {
		s := &p.slots[i]
		s.buf = newOwned(shape, &s.refs)
		s.buf.pool = p
		p.free <- s
	}
	return p, nil
}

func (p *Pool) Shape() Shape { return p.shape }
func (p *Pool) Capacity() int { return len(p.slots) }

// Acquire reserves one buffer from the pool with a single reference. It
// never blocks and never allocates: on exhaustion it returns (nil, false)
// immediately, which callers treat as a TransientDrop (spec 7).
func (p *Pool) Acquire() (*Buffer, bool) {
	select {
	case s := <-p.free:
		s.refs = 1
		return s.buf, true
	default:
		return nil, false
	}
}

// InUse reports how many of the pool's slots are currently checked out.
// Intended for tests asserting the no-leak invariant (spec 8).
func (p *Pool) InUse() int {
	return len(p.slots) - len(p.free)
}

func (p *Pool) reclaim(b *Buffer) {
	for i := range p.slots {
		if p.slots[i].buf == b {
			p.free <- &p.slots[i]
			return
		}
	}
}
