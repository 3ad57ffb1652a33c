package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmex/engine/internal/audiograph/buffer"
)

func s16StereoShape(frames int) buffer.Shape {
	return buffer.Shape{Frames: frames, SampleRate: 48000, Format: buffer.FormatS16, Layout: buffer.Stereo()}
}

func TestFileSinkWritesAtomicallyOnStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")

	shape := s16StereoShape(16)
	pool, err := buffer.NewPool(shape, 4)
	require.NoError(t, err)

	sink := NewFileSink("sink", path, shape)
	require.NoError(t, sink.Start())

	for i := 0; i < 3; i++ {
		b, ok := pool.Acquire()
		require.True(t, ok)
		require.NoError(t, sink.SetInput(0, b))
	}

	require.NoError(t, sink.Stop())

	info, err := os.Stat(path)
	require.NoError(t, err, "final file must exist after Stop")
	assert.Greater(t, info.Size(), int64(44), "file should contain header + data")

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away on clean stop")
}

func TestFileSourceToFileSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "in.wav")
	dstPath := filepath.Join(dir, "out.wav")

	shape := s16StereoShape(32)
	const blocks = 10

	// Write a source file directly using the wav writer.
	f, err := os.Create(srcPath)
	require.NoError(t, err)
	ww, err := createWavWriter(f, shape.SampleRate, shape.Layout.Channels(), shape.Format.BytesPerSample()*8)
	require.NoError(t, err)

	pool, err := buffer.NewPool(shape, 6)
	require.NoError(t, err)

	for i := 0; i < blocks; i++ {
		b, ok := pool.Acquire()
		require.True(t, ok)
		require.NoError(t, ww.WriteBlock(b))
		b.Release()
	}
	require.NoError(t, ww.Close())
	require.NoError(t, f.Close())

	src := NewFileSource("src", srcPath, pool, true /* paced */)
	sink := NewFileSink("sink", dstPath, shape)

	require.NoError(t, src.Start())
	require.NoError(t, sink.Start())

	for {
		err := src.Process()
		if err == ErrEndOfStream {
			break
		}
		require.NoError(t, err)
		b, err := src.GetOutput(0)
		require.NoError(t, err)
		require.NoError(t, sink.SetInput(0, b))
	}

	require.NoError(t, src.Stop())
	require.NoError(t, sink.Stop())

	info, err := os.Stat(dstPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(44))
	assert.Equal(t, 0, pool.InUse())
}
