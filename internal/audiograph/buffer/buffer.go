package buffer

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// simdAlign is the minimum byte alignment required for plane
// allocations to stay SIMD-friendly (>=16 bytes).
const simdAlign = 16

// Buffer is one multichannel PCM block. Buffers are never copied by value;
// code holds a *Buffer and passes it around, transferring ownership by
// simply handing the pointer off (spec 3: "handed off by move"). A Buffer
// is either owned by exactly one node, sitting idle in its Pool, or it is a
// non-owning view borrowing a parent's planes.
type Buffer struct {
	shape  Shape
	planes [][]byte // each len == shape.bytesPerPlane(); padded for alignment

	refs   *int32 // shared with the pool slot; nil for a view
	pool   *Pool  // nil if not pool-owned (views, ad hoc buffers in tests)
	parent *Buffer // non-nil only for views; keeps the parent alive
}

// newOwned allocates a fresh, pool-owned buffer of the given shape.
func newOwned(shape Shape, refs *int32) *Buffer {
	planes := make([][]byte, shape.planeCount())
	for i := range planes {
		planes[i] = alignedAlloc(shape.bytesPerPlane())
	}
	return &Buffer{shape: shape, planes: planes, refs: refs}
}

// alignedAlloc returns an n-byte slice whose backing array starts on a
// simdAlign boundary, by over-allocating and trimming the misaligned head.
func alignedAlloc(n int) []byte {
	buf := make([]byte, n+simdAlign)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	off := int((simdAlign - addr%simdAlign) % simdAlign)
	return buf[off : off+n : off+n]
}

func (b *Buffer) Shape() Shape { return b.shape }

// Planes returns the raw byte planes backing this buffer. Callers must not
// retain slices beyond the buffer's lifetime (they become invalid once the
// last reference is released back to the pool and the pool hands the
// backing array to a new acquire).
func (b *Buffer) Planes() [][]byte { return b.planes }

// Acquire increments the reference count (used when a buffer is fanned out
// to more than one downstream consumer, e.g. multiple connections off one
// output port).
func (b *Buffer) Acquire() {
	if b.refs != nil {
		atomic.AddInt32(b.refs, 1)
	} else if b.parent != nil {
		b.parent.Acquire()
	}
}

// Release drops one reference. When the count reaches zero and the buffer
// is pool-owned, it is returned to the pool's free list; non-pool buffers
// (ad hoc allocations, e.g. from tests) are simply dropped for the garbage
// collector. Releasing a view releases the parent's reference instead —
// "the view keeps the parent alive" (spec 3).
func (b *Buffer) Release() {
	if b.parent != nil {
		b.parent.Release()
		return
	}
	if b.refs == nil || b.pool == nil {
		return
	}
	if atomic.AddInt32(b.refs, -1) == 0 {
		b.pool.reclaim(b)
	}
}

// CopyFrom performs a deep copy from a structurally compatible buffer.
// Structural compatibility means identical Shape; layout/format adaptation
// belongs to a node-internal converter, not this method.
func (b *Buffer) CopyFrom(src *Buffer) error {
	if !b.shape.Equal(src.shape) {
		return fmt.Errorf("buffer: copyFrom shape mismatch: dst=%+v src=%+v", b.shape, src.shape)
	}
	for i := range b.planes {
		copy(b.planes[i], src.planes[i])
	}
	return nil
}

// View returns a non-owning window onto a sub-range of frames of parent.
// The view does not own memory and must never be reallocated; per the
// design notes (spec 9), buffers with live views must not be reallocated —
// this package enforces that simply by never reallocating a Buffer's
// planes (a released buffer goes back to its pool slot with the same
// planes, and the pool only reclaims a slot once its refcount, including
// the reference each view holds, has reached zero).
func View(parent *Buffer, startFrame, frames int) (*Buffer, error) {
	if startFrame < 0 || frames <= 0 || startFrame+frames > parent.shape.Frames {
		return nil, fmt.Errorf("buffer: view [%d:%d+%d) out of range for %d frames",
			startFrame, startFrame, frames, parent.shape.Frames)
	}
	viewShape := parent.shape
	viewShape.Frames = frames

	bps := parent.shape.Format.BytesPerSample()
	planes := make([][]byte, len(parent.planes))
	for i, p := range parent.planes {
		if parent.shape.Planar {
			off := startFrame * bps
			planes[i] = p[off : off+frames*bps]
		} else {
			ch := parent.shape.Layout.Channels()
			off := startFrame * ch * bps
			planes[i] = p[off : off+frames*ch*bps]
		}
	}
	parent.Acquire()
	return &Buffer{shape: viewShape, planes: planes, parent: parent}, nil
}

// InteropFrame is the raw-pointer view handed to external codec/driver
// libraries (spec 4.1: toInteropFrame/fromInteropFrame). Formats are
// copied verbatim, never transcoded, at this boundary.
type InteropFrame struct {
	Planes    [][]byte
	Frames    int
	Linesize  int // bytes per plane
	Planar    bool
	Channels  int
}

func (b *Buffer) ToInteropFrame() InteropFrame {
	return InteropFrame{
		Planes:   b.planes,
		Frames:   b.shape.Frames,
		Linesize: b.shape.bytesPerPlane(),
		Planar:   b.shape.Planar,
		Channels: b.shape.Layout.Channels(),
	}
}

// FromInteropFrame fills b's planes from an externally produced frame of
// identical shape. It is the caller's responsibility to have negotiated a
// matching Shape beforehand (e.g. via the hardware driver's negotiated
// format); this call does not convert.
func (b *Buffer) FromInteropFrame(f InteropFrame) error {
	if f.Frames != b.shape.Frames || f.Planar != b.shape.Planar || len(f.Planes) != len(b.planes) {
		return fmt.Errorf("buffer: fromInteropFrame shape mismatch")
	}
	for i := range b.planes {
		copy(b.planes[i], f.Planes[i])
	}
	return nil
}

// DebugCheckInvariants validates plane sizing and layout symmetry; intended
// for debug builds / tests, not the real-time path (spec 4.1).
func (b *Buffer) DebugCheckInvariants() error {
	want := b.shape.bytesPerPlane()
	for i, p := range b.planes {
		if len(p) != want {
			return fmt.Errorf("buffer: plane %d size %d != expected %d", i, len(p), want)
		}
	}
	if b.shape.Planar && len(b.planes) != b.shape.Layout.Channels() {
		return fmt.Errorf("buffer: planar plane count %d != channel count %d",
			len(b.planes), b.shape.Layout.Channels())
	}
	if !b.shape.Planar && len(b.planes) != 1 {
		return fmt.Errorf("buffer: interleaved buffer must have exactly one plane, got %d", len(b.planes))
	}
	return nil
}
