package hwdriver

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortaudioDriver is the production Driver backed by
// github.com/gordonklaus/portaudio. portaudio's own callback hands us
// plain []float32 slices rather than raw pointers plus a double-buffer
// index, so this adapter reintroduces the double-buffer shape the rest
// of the engine is built around: two pre-allocated channel
// slot sets, flipped every callback, matching src/audio.go's
// inbuf/outbuf bookkeeping but expressed as Go slices instead of C
// pointers and ioctl calls.
type PortaudioDriver struct {
	mu sync.Mutex

	deviceName string
	device     *portaudio.DeviceInfo
	stream     *portaudio.Stream

	rate        float64
	blockFrames int

	inChans  []int
	outChans []int

	// double-buffered per-channel scratch, refilled each callback
	in  [2][][]float32
	out [2][][]float32
	cur int

	cb Callback
}

func New() *PortaudioDriver {
	return &PortaudioDriver{}
}

func (d *PortaudioDriver) Enumerate() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("hwdriver: initialize: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("hwdriver: enumerate: %w", err)
	}
	out := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		out = append(out, DeviceInfo{
			Name:            dev.Name,
			MaxInputs:       dev.MaxInputChannels,
			MaxOutputs:      dev.MaxOutputChannels,
			DefaultSampleRt: dev.DefaultSampleRate,
		})
	}
	return out, nil
}

func (d *PortaudioDriver) Open(name string) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("hwdriver: initialize: %w", err)
	}

	var dev *portaudio.DeviceInfo
	var err error
	if name == "" {
		dev, err = portaudio.DefaultOutputDevice()
	} else {
		var devices []*portaudio.DeviceInfo
		devices, err = portaudio.Devices()
		if err == nil {
			for _, candidate := range devices {
				if candidate.Name == name {
					dev = candidate
					break
				}
			}
			if dev == nil {
				err = fmt.Errorf("hwdriver: device %q not found", name)
			}
		}
	}
	if err != nil {
		portaudio.Terminate()
		return err
	}

	d.mu.Lock()
	d.device = dev
	d.deviceName = name
	d.mu.Unlock()
	return nil
}

func (d *PortaudioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		_ = d.stream.Close()
		d.stream = nil
	}
	d.device = nil
	return portaudio.Terminate()
}

func (d *PortaudioDriver) Init(preferredRate float64, preferredBlockFrames int) (float64, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return 0, 0, ErrNotOpen
	}

	rate := preferredRate
	if rate <= 0 {
		rate = d.device.DefaultSampleRate
	}
	block := preferredBlockFrames
	if block <= 0 {
		block = 512
	}

	d.rate = rate
	d.blockFrames = block
	return rate, block, nil
}

func (d *PortaudioDriver) CreateBuffers(inputChannels, outputChannels []int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return ErrNotOpen
	}

	d.inChans = append([]int(nil), inputChannels...)
	d.outChans = append([]int(nil), outputChannels...)

	for half := 0; half < 2; half++ {
		d.in[half] = make([][]float32, len(d.inChans))
		for i := range d.in[half] {
			d.in[half][i] = make([]float32, d.blockFrames)
		}
		d.out[half] = make([][]float32, len(d.outChans))
		for i := range d.out[half] {
			d.out[half][i] = make([]float32, d.blockFrames)
		}
	}
	return nil
}

func (d *PortaudioDriver) GetInputPtrs(doubleIdx int) [][]float32  { return d.in[doubleIdx&1] }
func (d *PortaudioDriver) GetOutputPtrs(doubleIdx int) [][]float32 { return d.out[doubleIdx&1] }

func (d *PortaudioDriver) Start(cb Callback) error {
	d.mu.Lock()
	d.cb = cb
	nIn, nOut := len(d.inChans), len(d.outChans)
	params := portaudio.StreamParameters{
		SampleRate:      d.rate,
		FramesPerBuffer: d.blockFrames,
	}
	if nIn > 0 {
		params.Input = portaudio.StreamDeviceParameters{
			Device: d.device, Channels: nIn, Latency: d.device.DefaultLowInputLatency,
		}
	}
	if nOut > 0 {
		params.Output = portaudio.StreamDeviceParameters{
			Device: d.device, Channels: nOut, Latency: d.device.DefaultLowOutputLatency,
		}
	}
	d.mu.Unlock()

	stream, err := portaudio.OpenStream(params, d.streamCallback)
	if err != nil {
		return fmt.Errorf("hwdriver: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		return fmt.Errorf("hwdriver: start stream: %w", err)
	}

	d.mu.Lock()
	d.stream = stream
	d.mu.Unlock()
	return nil
}

// streamCallback is invoked by portaudio on its own real-time thread. It
// deinterleaves/reinterleaves into the double-buffered scratch and invokes
// the engine callback, honoring the "no allocation" rule (spec 4.3): every
// slice here was sized once in CreateBuffers.
func (d *PortaudioDriver) streamCallback(in, out []float32) {
	d.cur ^= 1
	half := d.cur

	nIn := len(d.inChans)
	if nIn > 0 {
		frames := len(in) / nIn
		for ch := 0; ch < nIn; ch++ {
			dst := d.in[half][ch]
			for f := 0; f < frames && f < len(dst); f++ {
				dst[f] = in[f*nIn+ch]
			}
		}
	}

	if d.cb != nil {
		d.cb(half, true)
	}

	nOut := len(d.outChans)
	if nOut > 0 {
		frames := len(out) / nOut
		for ch := 0; ch < nOut; ch++ {
			src := d.out[half][ch]
			for f := 0; f < frames && f < len(src); f++ {
				out[f*nOut+ch] = src[f]
			}
		}
	}
}

func (d *PortaudioDriver) Stop() error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Stop()
}

func (d *PortaudioDriver) BlockFrames() int  { return d.blockFrames }
func (d *PortaudioDriver) SampleRate() float64 { return d.rate }
