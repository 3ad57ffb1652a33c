package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmex/engine/internal/audiograph/buffer"
)

func testShape() buffer.Shape {
	return buffer.Shape{Frames: 64, SampleRate: 48000, Format: buffer.FormatS16, Layout: buffer.Stereo()}
}

func TestFIFOOrderPreserved(t *testing.T) {
	pool, err := buffer.NewPool(testShape(), 8)
	require.NoError(t, err)

	q := New(4)
	var pushed []*buffer.Buffer
	for i := 0; i < 4; i++ {
		b, ok := pool.Acquire()
		require.True(t, ok)
		pushed = append(pushed, b)
		require.NoError(t, q.Push(b))
	}

	for _, want := range pushed {
		got, err := q.Pop()
		require.NoError(t, err)
		assert.Same(t, want, got)
		got.Release()
	}
}

func TestTryPushFailsWhenFull(t *testing.T) {
	pool, _ := buffer.NewPool(testShape(), 2)
	q := New(1)

	b1, _ := pool.Acquire()
	require.True(t, q.TryPush(b1))

	b2, _ := pool.Acquire()
	assert.False(t, q.TryPush(b2))
	b2.Release()

	got, err := q.Pop()
	require.NoError(t, err)
	got.Release()
}

func TestBlockingPushUnblocksOnPop(t *testing.T) {
	pool, _ := buffer.NewPool(testShape(), 4)
	q := New(1)

	b1, _ := pool.Acquire()
	require.NoError(t, q.Push(b1))

	b2, _ := pool.Acquire()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, q.Push(b2))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("push should have blocked while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	got, err := q.Pop()
	require.NoError(t, err)
	got.Release()

	wg.Wait()
	select {
	case <-done:
	default:
		t.Fatal("push should have unblocked after a pop")
	}

	got2, _ := q.Pop()
	got2.Release()
}

func TestCloseDrainsAndReleasesToPool(t *testing.T) {
	pool, err := buffer.NewPool(testShape(), 3)
	require.NoError(t, err)

	q := New(3)
	for i := 0; i < 3; i++ {
		b, _ := pool.Acquire()
		require.NoError(t, q.Push(b))
	}
	assert.Equal(t, 3, pool.InUse())

	q.Close()
	assert.Equal(t, 0, pool.InUse(), "close must release drained buffers")

	_, err = q.Pop()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseUnblocksWaitingPush(t *testing.T) {
	pool, _ := buffer.NewPool(testShape(), 2)
	q := New(1)

	b1, _ := pool.Acquire()
	require.NoError(t, q.Push(b1))

	b2, _ := pool.Acquire()
	errCh := make(chan error, 1)
	go func() { errCh <- q.Push(b2) }()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	err := <-errCh
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTryPopTimeout(t *testing.T) {
	q := New(2)
	_, err := q.TryPopTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
