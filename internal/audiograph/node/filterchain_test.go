package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmex/engine/internal/audiograph/buffer"
)

func monoF32Shape(frames int) buffer.Shape {
	return buffer.Shape{Frames: frames, SampleRate: 48000, Format: buffer.FormatF32, Layout: buffer.Mono()}
}

func TestFilterChainAppliesGain(t *testing.T) {
	pool, err := buffer.NewPool(monoF32Shape(8), 4)
	require.NoError(t, err)

	eq := NewOnePoleEQ("eq", 48000, 1, 20000, 6) // near-unity pass, +6dB
	chain := NewFilterChain("fc", []Filter{eq}, pool)
	require.NoError(t, chain.Start())

	in, ok := pool.Acquire()
	require.True(t, ok)
	plane := in.Planes()[0]
	for f := 0; f < 8; f++ {
		writeSample([][]byte{plane}, 0, f, monoF32Shape(8), 4, 0.1)
	}

	require.NoError(t, chain.SetInput(0, in))
	require.NoError(t, chain.Process())

	out, err := chain.GetOutput(0)
	require.NoError(t, err)
	defer out.Release()

	y := readSample(out.Planes(), 0, 0, monoF32Shape(8), 4)
	assert.Greater(t, y, 0.1, "a +6dB stage should raise the sample above its input")
}

func TestFilterChainParamUpdateAppliesAtNextBlockBoundary(t *testing.T) {
	pool, err := buffer.NewPool(monoF32Shape(4), 6)
	require.NoError(t, err)

	eq := NewOnePoleEQ("eq", 48000, 1, 20000, 0)
	chain := NewFilterChain("fc", []Filter{eq}, pool)
	require.NoError(t, chain.Start())

	// Update queued before Process must not apply mid-block (there is no
	// mid-block here since Process is atomic per tick), but must be
	// visible on or after this Process call (spec 4.4.5).
	chain.UpdateParameter("gain_db", 20)

	in, _ := pool.Acquire()
	require.NoError(t, chain.SetInput(0, in))
	require.NoError(t, chain.Process())
	out, err := chain.GetOutput(0)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 20.0, eq.gainDB.load())
}

func TestFilterChainNoLeaksAcrossTicks(t *testing.T) {
	pool, err := buffer.NewPool(monoF32Shape(4), 4)
	require.NoError(t, err)

	chain := NewFilterChain("fc", []Filter{NewOnePoleEQ("eq", 48000, 1, 20000, 0)}, pool)
	require.NoError(t, chain.Start())

	for i := 0; i < 10; i++ {
		in, ok := pool.Acquire()
		require.True(t, ok)
		require.NoError(t, chain.SetInput(0, in))
		require.NoError(t, chain.Process())
		out, err := chain.GetOutput(0)
		require.NoError(t, err)
		out.Release()
	}
	assert.Equal(t, 0, pool.InUse())
}

func TestChannelAdapterMonoToStereo(t *testing.T) {
	monoShape := monoF32Shape(4)
	stereoShape := buffer.Shape{Frames: 4, SampleRate: 48000, Format: buffer.FormatF32, Layout: buffer.Stereo()}

	monoPool, _ := buffer.NewPool(monoShape, 2)
	stereoPool, _ := buffer.NewPool(stereoShape, 2)

	src, _ := monoPool.Acquire()
	defer src.Release()
	for f := 0; f < 4; f++ {
		writeSample(src.Planes(), 0, f, monoShape, 4, 0.5)
	}

	dst, _ := stereoPool.Acquire()
	defer dst.Release()

	adapter := NewChannelAdapter("adapt")
	adapter.Process(dst, src)

	for ch := 0; ch < 2; ch++ {
		assert.InDelta(t, 0.5, readSample(dst.Planes(), ch, 0, stereoShape, 4), 1e-6)
	}
}

func TestCompressorReducesAboveThreshold(t *testing.T) {
	shape := monoF32Shape(1)
	pool, _ := buffer.NewPool(shape, 2)

	comp := NewCompressor("comp", -12, 4, 0)
	src, _ := pool.Acquire()
	defer src.Release()
	writeSample(src.Planes(), 0, 0, shape, 4, 0.9) // well above -12dB threshold

	dst, _ := pool.Acquire()
	defer dst.Release()
	comp.Process(dst, src)

	out := readSample(dst.Planes(), 0, 0, shape, 4)
	assert.Less(t, out, 0.9, "a sample above threshold must be gain-reduced")
}
