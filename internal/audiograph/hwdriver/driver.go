// Package hwdriver wraps the real-time audio driver: device enumeration,
// open/close, sample-rate and block-size negotiation, and delivery of the
// buffer-switch callback that drives the graph's real-time tick (spec
// 4.3). Grounded on src/audio.go's audio_open/negotiate/callback shape,
// reworked from raw OSS/ALSA ioctls onto github.com/gordonklaus/portaudio.
package hwdriver

import "fmt"

// DeviceInfo describes one enumerable audio device.
type DeviceInfo struct {
	Name            string
	MaxInputs       int
	MaxOutputs      int
	DefaultSampleRt float64
}

// Callback is invoked once per block on the driver's own thread. doubleIdx
// toggles 0/1 every call; direct is true when the driver is delivering
// frames synchronously (no additional buffering layer underneath it).
// Implementations must return within one block period: no allocation, no
// contended locks (spec 4.3, "Concurrency").
type Callback func(doubleIdx int, direct bool)

// Driver is the contract a HardwareSource/HardwareSink node is built on.
// A single Driver instance is shared between the one source and one sink
// node that reference the same physical device, since both sides of a
// duplex stream are negotiated and opened together.
type Driver interface {
	// Enumerate lists the devices the underlying host API can see. This is
	// just device listing (spec's Non-goal only excludes *automatic
	// discovery* of the control-plane device, not listing local hardware).
	Enumerate() ([]DeviceInfo, error)

	// Open selects a device by name (or "" for the host API default).
	Open(name string) error
	Close() error

	// Init negotiates block size and sample rate against the opened
	// device's capabilities and returns what was actually granted.
	Init(preferredRate float64, preferredBlockFrames int) (actualRate float64, actualBlockFrames int, err error)

	// CreateBuffers reserves driver-side buffers for the given channel
	// index subsets. After this call GetInputPtrs/GetOutputPtrs are valid.
	CreateBuffers(inputChannels, outputChannels []int) error

	// GetInputPtrs/GetOutputPtrs return the current half of the
	// double-buffer for the selected channels, valid for the duration of
	// one Callback invocation only.
	GetInputPtrs(doubleIdx int) [][]float32
	GetOutputPtrs(doubleIdx int) [][]float32

	Start(cb Callback) error
	Stop() error

	BlockFrames() int
	SampleRate() float64
}

// ErrNotOpen is returned by operations that require an opened device.
var ErrNotOpen = fmt.Errorf("hwdriver: device not open")
