package buffer

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uintptrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func stereoShape(frames int) Shape {
	return Shape{Frames: frames, SampleRate: 48000, Format: FormatS16, Layout: Stereo(), Planar: false}
}

func TestPoolAcquireReleaseNoLeak(t *testing.T) {
	pool, err := NewPool(stereoShape(512), 4)
	require.NoError(t, err)

	b1, ok := pool.Acquire()
	require.True(t, ok)
	assert.Equal(t, 1, pool.InUse())

	b2, ok := pool.Acquire()
	require.True(t, ok)
	assert.Equal(t, 2, pool.InUse())

	b1.Release()
	assert.Equal(t, 1, pool.InUse())

	b2.Release()
	assert.Equal(t, 0, pool.InUse())
}

func TestPoolExhaustionFailsRatherThanAllocates(t *testing.T) {
	pool, err := NewPool(stereoShape(256), 2)
	require.NoError(t, err)

	b1, ok := pool.Acquire()
	require.True(t, ok)
	b2, ok := pool.Acquire()
	require.True(t, ok)

	_, ok = pool.Acquire()
	assert.False(t, ok, "acquire on an exhausted pool must fail, not allocate")

	b1.Release()
	b2.Release()
}

func TestBufferDebugInvariants(t *testing.T) {
	pool, err := NewPool(stereoShape(128), 1)
	require.NoError(t, err)

	b, ok := pool.Acquire()
	require.True(t, ok)
	defer b.Release()

	assert.NoError(t, b.DebugCheckInvariants())
}

func TestCopyFromRequiresMatchingShape(t *testing.T) {
	poolA, _ := NewPool(stereoShape(256), 1)
	poolB, _ := NewPool(stereoShape(128), 1)

	a, _ := poolA.Acquire()
	defer a.Release()
	b, _ := poolB.Acquire()
	defer b.Release()

	assert.Error(t, a.CopyFrom(b))
}

func TestCopyFromCopiesBytes(t *testing.T) {
	pool, _ := NewPool(stereoShape(4), 2)
	src, _ := pool.Acquire()
	defer src.Release()
	dst, _ := pool.Acquire()
	defer dst.Release()

	for i := range src.planes[0] {
		src.planes[0][i] = byte(i + 1)
	}
	require.NoError(t, dst.CopyFrom(src))
	assert.Equal(t, src.planes[0], dst.planes[0])
}

func TestViewKeepsParentAliveAndReleasesThrough(t *testing.T) {
	pool, _ := NewPool(stereoShape(16), 1)
	parent, _ := pool.Acquire()

	view, err := View(parent, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, view.Shape().Frames)

	// Parent has one real reference plus the view's acquired reference.
	parent.Release() // drop the caller's own reference
	assert.Equal(t, 1, pool.InUse(), "buffer must stay checked out while a view is alive")

	view.Release()
	assert.Equal(t, 0, pool.InUse(), "releasing the last view releases the parent")
}

func TestViewOutOfRangeRejected(t *testing.T) {
	pool, _ := NewPool(stereoShape(16), 1)
	parent, _ := pool.Acquire()
	defer parent.Release()

	_, err := View(parent, 10, 10)
	assert.Error(t, err)
}

func TestAlignedAllocationIsSIMDAligned(t *testing.T) {
	pool, _ := NewPool(stereoShape(512), 1)
	b, _ := pool.Acquire()
	defer b.Release()

	for _, p := range b.planes {
		addr := uintptrOf(p)
		assert.Zero(t, addr%simdAlign, "plane must be %d-byte aligned", simdAlign)
	}
}
