package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmex/engine/internal/audiograph/buffer"
	"github.com/oscmex/engine/internal/audiograph/hwdriver"
	"github.com/oscmex/engine/internal/audiograph/node"
)

func monoF32(frames int) buffer.Shape {
	return buffer.Shape{Frames: frames, SampleRate: 48000, Format: buffer.FormatF32, Layout: buffer.Mono()}
}

func newFakeDriver(t *testing.T, blockFrames int) *hwdriver.FakeDriver {
	t.Helper()
	d := hwdriver.NewFake()
	_, _, err := d.Init(48000, blockFrames)
	require.NoError(t, err)
	require.NoError(t, d.CreateBuffers([]int{0}, []int{0}))
	return d
}

func TestCompileOrdersSourceBeforeSinkAcrossAFilterChain(t *testing.T) {
	shape := monoF32(8)
	pool, err := buffer.NewPool(shape, 8)
	require.NoError(t, err)

	driver := newFakeDriver(t, shape.Frames)
	g := New(nil)

	srcIdx := g.AddNode(node.NewHardwareSource("src", driver, []int{0}, pool))
	chain := node.NewFilterChain("gain", []node.Filter{node.NewOnePoleEQ("eq", 48000, 1, 20000, 0)}, pool)
	chainIdx := g.AddNode(chain)
	sinkIdx := g.AddNode(node.NewHardwareSink("sink", driver, []int{0}, shape))

	require.NoError(t, g.Connect(Connection{SrcNode: srcIdx, SrcPort: 0, DstNode: chainIdx, DstPort: 0}))
	require.NoError(t, g.Connect(Connection{SrcNode: chainIdx, SrcPort: 0, DstNode: sinkIdx, DstPort: 0}))

	require.NoError(t, g.Compile())

	assert.Less(t, g.Index("src"), g.Index("gain"))
	assert.Less(t, g.Index("gain"), g.Index("sink"))
}

func TestCompileDetectsCycle(t *testing.T) {
	shape := monoF32(4)
	pool, err := buffer.NewPool(shape, 4)
	require.NoError(t, err)

	g := New(nil)
	a := g.AddNode(node.NewFilterChain("a", nil, pool))
	b := g.AddNode(node.NewFilterChain("b", nil, pool))

	require.NoError(t, g.Connect(Connection{SrcNode: a, SrcPort: 0, DstNode: b, DstPort: 0}))
	require.NoError(t, g.Connect(Connection{SrcNode: b, SrcPort: 0, DstNode: a, DstPort: 0}))

	err = g.Compile()
	assert.Error(t, err)
}

func TestConnectRejectsDoublyFedInputPort(t *testing.T) {
	shape := monoF32(4)
	pool, err := buffer.NewPool(shape, 4)
	require.NoError(t, err)

	g := New(nil)
	a := g.AddNode(node.NewFilterChain("a", nil, pool))
	b := g.AddNode(node.NewFilterChain("b", nil, pool))
	c := g.AddNode(node.NewFilterChain("c", nil, pool))

	require.NoError(t, g.Connect(Connection{SrcNode: a, SrcPort: 0, DstNode: c, DstPort: 0}))
	err = g.Connect(Connection{SrcNode: b, SrcPort: 0, DstNode: c, DstPort: 0})
	assert.Error(t, err)
}

// TestTickDrivesEndToEndUnderFakeHardware covers spec 8 scenario 5: a tick
// with a real hardware source/sink pair must advance the source, run the
// chain, write the sink's output, and leave the pool fully reclaimed.
func TestTickDrivesEndToEndUnderFakeHardware(t *testing.T) {
	shape := buffer.Shape{Frames: 16, SampleRate: 48000, Format: buffer.FormatF32, Layout: buffer.Mono()}
	pool, err := buffer.NewPool(shape, 8)
	require.NoError(t, err)

	driver := newFakeDriver(t, shape.Frames)
	in := driver.GetInputPtrs(0)
	for i := range in[0] {
		in[0][i] = 0.25
	}

	g := New(nil)
	srcIdx := g.AddNode(node.NewHardwareSource("src", driver, []int{0}, pool))
	chain := node.NewFilterChain("gain", []node.Filter{node.NewOnePoleEQ("eq", 48000, 1, 20000, 6)}, pool)
	chainIdx := g.AddNode(chain)
	sink := node.NewHardwareSink("sink", driver, []int{0}, shape)
	sinkIdx := g.AddNode(sink)

	require.NoError(t, g.Connect(Connection{SrcNode: srcIdx, SrcPort: 0, DstNode: chainIdx, DstPort: 0}))
	require.NoError(t, g.Connect(Connection{SrcNode: chainIdx, SrcPort: 0, DstNode: sinkIdx, DstPort: 0}))
	require.NoError(t, g.Compile())

	for tick := 0; tick < 5; tick++ {
		require.NoError(t, g.Tick(0))
	}

	assert.Equal(t, 0, pool.InUse(), "every tick must release its intermediate buffers")
	out := driver.GetOutputPtrs(0)
	assert.Greater(t, out[0][0], float32(0.25), "a +6dB stage must raise the written sample")
	assert.Equal(t, 0, sink.Underruns)
}

func TestTickCountsUnderrunWhenSinkHasNoInput(t *testing.T) {
	shape := monoF32(4)
	driver := newFakeDriver(t, shape.Frames)

	g := New(nil)
	sinkIdx := g.AddNode(node.NewHardwareSink("sink", driver, []int{0}, shape))
	require.NoError(t, g.Compile())

	err := g.Tick(0)
	assert.ErrorIs(t, err, node.ErrTransient)

	sink := g.nodes[sinkIdx].(*node.HardwareSink)
	assert.Equal(t, 1, sink.Underruns)
}
