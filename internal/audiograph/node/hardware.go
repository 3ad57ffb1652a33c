package node

import (
	"github.com/charmbracelet/log"

	"github.com/oscmex/engine/internal/audiograph/buffer"
	"github.com/oscmex/engine/internal/audiograph/hwdriver"
)

// HardwareSource reads the driver's input pointers for its configured
// channel set once per callback and produces exactly one output buffer
// per tick (spec 4.4.1).
type HardwareSource struct {
	header

	driver   hwdriver.Driver
	channels []int // driver channel indices this source reads
	pool     *buffer.Pool

	pending *buffer.Buffer
}

func NewHardwareSource(name string, driver hwdriver.Driver, channels []int, pool *buffer.Pool) *HardwareSource {
	return &HardwareSource{
		header: header{
			name: name, kind: "hw_source", state: StateConfigured,
			outputs: []Port{{Name: "out", Shape: pool.Shape()}},
			logger:  log.Default().With("node", name),
		},
		driver: driver, channels: channels, pool: pool,
	}
}

func (n *HardwareSource) Start() error { n.state = StateRunning; return nil }
func (n *HardwareSource) Stop() error  { n.state = StateStopped; return nil }

func (n *HardwareSource) SetInput(int, *buffer.Buffer) error {
	return nil // source has no inbound port
}

// Deliver is called by the graph once per tick (callback or paced) with
// the driver's current double-buffer index, converting the driver-native
// planar float32 channels into the pool's native shape.
func (n *HardwareSource) Deliver(doubleIdx int) error {
	out, ok := n.pool.Acquire()
	if !ok {
		n.logger().Warn("pool exhausted, dropping hardware input block", "node", n.name)
		return ErrTransient
	}

	ptrs := n.driver.GetInputPtrs(doubleIdx)
	planes := out.Planes()
	shape := out.Shape()
	bps := shape.Format.BytesPerSample()

	for ci, chIdx := range n.channels {
		if chIdx < 0 || chIdx >= len(ptrs) {
			continue
		}
		writeFloat32Plane(planes, ci, ptrs[chIdx], shape, bps)
	}

	n.pending = out
	return nil
}

func (n *HardwareSource) Process() error { return nil } // work happens in Deliver

func (n *HardwareSource) GetOutput(port int) (*buffer.Buffer, error) {
	if n.pending == nil {
		return nil, ErrTransient
	}
	b := n.pending
	n.pending = nil
	return b, nil
}

func (n *HardwareSource) logger() *log.Logger { return n.header.logger }

// HardwareSink is the reverse of HardwareSource: it takes the final
// buffer and writes it into the driver's output pointers, emitting
// silence and counting an underrun if no input arrived this tick (spec
// 4.4.2).
type HardwareSink struct {
	header

	driver    hwdriver.Driver
	channels  []int
	input     *buffer.Buffer
	Underruns int
}

func NewHardwareSink(name string, driver hwdriver.Driver, channels []int, inShape buffer.Shape) *HardwareSink {
	return &HardwareSink{
		header: header{
			name: name, kind: "hw_sink", state: StateConfigured,
			inputs: []Port{{Name: "in", Shape: inShape}},
			logger: log.Default().With("node", name),
		},
		driver: driver, channels: channels,
	}
}

func (n *HardwareSink) Start() error { n.state = StateRunning; return nil }
func (n *HardwareSink) Stop() error  { n.state = StateStopped; return nil }

func (n *HardwareSink) SetInput(port int, buf *buffer.Buffer) error {
	n.input = buf
	return nil
}

func (n *HardwareSink) GetOutput(int) (*buffer.Buffer, error) { return nil, nil }

// WriteOut writes into the driver's current output pointers. The caller
// (the graph) supplies doubleIdx since the driver contract keys buffer
// halves by the callback's index, not by tick count.
func (n *HardwareSink) WriteOut(doubleIdx int) error {
	ptrs := n.driver.GetOutputPtrs(doubleIdx)

	if n.input == nil {
		n.Underruns++
		for _, p := range ptrs {
			for i := range p {
				p[i] = 0
			}
		}
		return ErrTransient
	}

	planes := n.input.Planes()
	shape := n.input.Shape()
	bps := shape.Format.BytesPerSample()
	for ci, chIdx := range n.channels {
		if ci >= len(planes) {
			break
		}
		if chIdx < 0 || chIdx >= len(ptrs) {
			continue
		}
		readFloat32Plane(ptrs[chIdx], planes, ci, shape, bps)
	}

	n.input.Release()
	n.input = nil
	return nil
}

func (n *HardwareSink) Process() error { return nil } // work happens in WriteOut
