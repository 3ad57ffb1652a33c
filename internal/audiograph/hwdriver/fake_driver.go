package hwdriver

import "sync"

// FakeDriver is an in-memory Driver used by the graph and engine tests
// where no real sound card is available.
// Grounded on atest.go's batch-decode harness: drive the same contract
// without real hardware underneath it.
type FakeDriver struct {
	mu sync.Mutex

	devices     []DeviceInfo
	rate        float64
	blockFrames int
	inChans     []int
	outChans    []int

	in  [2][][]float32
	out [2][][]float32
	cur int

	cb      Callback
	running bool

	// TickCount is incremented once per Tick call, for assertions.
	TickCount int
}

func NewFake(devices ...DeviceInfo) *FakeDriver {
	if len(devices) == 0 {
		devices = []DeviceInfo{{Name: "fake0", MaxInputs: 2, MaxOutputs: 2, DefaultSampleRt: 48000}}
	}
	return &FakeDriver{devices: devices}
}

func (d *FakeDriver) Enumerate() ([]DeviceInfo, error) { return d.devices, nil }
func (d *FakeDriver) Open(string) error                { return nil }
func (d *FakeDriver) Close() error                     { return nil }

func (d *FakeDriver) Init(preferredRate float64, preferredBlockFrames int) (float64, int, error) {
	if preferredRate <= 0 {
		preferredRate = 48000
	}
	if preferredBlockFrames <= 0 {
		preferredBlockFrames = 512
	}
	d.rate = preferredRate
	d.blockFrames = preferredBlockFrames
	return d.rate, d.blockFrames, nil
}

func (d *FakeDriver) CreateBuffers(inputChannels, outputChannels []int) error {
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

func (d *FakeDriver) GetInputPtrs(doubleIdx int) [][]float32  { return d.in[doubleIdx&1] }
func (d *FakeDriver) GetOutputPtrs(doubleIdx int) [][]float32 { return d.out[doubleIdx&1] }

func (d *FakeDriver) Start(cb Callback) error {
	d.mu.Lock()
	d.cb = cb
	d.running = true
	d.mu.Unlock()
	return nil
}

func (d *FakeDriver) Stop() error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

// Tick synchronously drives one buffer-switch callback, standing in for
// the real driver thread in tests.
func (d *FakeDriver) Tick() {
	d.mu.Lock()
	d.cur ^= 1
	half := d.cur
	cb := d.cb
	d.TickCount++
	d.mu.Unlock()

	if cb != nil {
		cb(half, true)
	}
}

func (d *FakeDriver) BlockFrames() int    { return d.blockFrames }
func (d *FakeDriver) SampleRate() float64 { return d.rate }
