// Package engine is the Engine Facade (C6, spec 4.10): it owns boot
// sequence, lifecycle (initialize/run/stop), the shared buffer pool, the
// processing graph, and — when a control-plane endpoint is configured —
// the Device Control Bridge (shadow, address tree, SysEx transport,
// control server) and an optional GPIO status lamp.
//
// Grounded on src/direwolf's top-level wiring in main.go/config.go: one
// function that reads config, builds every subsystem in dependency
// order, and hands the result to a run loop, reworked from direwolf's
// package-level globals (spec 9's explicit redesign) into one struct
// that owns its dependencies outright.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/oscmex/engine/internal/audiograph/buffer"
	"github.com/oscmex/engine/internal/audiograph/graph"
	"github.com/oscmex/engine/internal/audiograph/hwdriver"
	"github.com/oscmex/engine/internal/config"
	"github.com/oscmex/engine/internal/devicebridge/addrtree"
	"github.com/oscmex/engine/internal/devicebridge/oscserver"
	"github.com/oscmex/engine/internal/devicebridge/shadow"
	"github.com/oscmex/engine/internal/devicebridge/sysex"
	"github.com/oscmex/engine/internal/statuslamp"
)

// StatusCategory classifies one posted status event (spec 4.10, spec 7).
type StatusCategory string

const (
	StatusLifecycle    StatusCategory = "lifecycle"
	StatusNodeError    StatusCategory = "node_error"
	StatusTransient    StatusCategory = "transient_drop"
	StatusDeviceError  StatusCategory = "device_error"
	StatusControlError StatusCategory = "control_error"
	StatusTransport    StatusCategory = "transport_error"
)

// StatusEvent is the (category, message) pair posted to subscribers
// (spec 4.10: "posts (category, message) events asynchronously").
type StatusEvent struct {
	Category StatusCategory
	Message  string
}

// statusRingCapacity bounds the lock-free ring the RT/control paths post
// into; a full ring drops the oldest pending event rather than blocking
// the poster, mirroring buffer.Pool's own "never block the caller" policy.
const statusRingCapacity = 256

// Option configures an Engine at construction, primarily for test
// injection (spec 9: "confine global state to the Facade" implies the
// Facade's own dependencies — including the driver — are passed in
// explicitly, never resolved through a package-level default).
type Option func(*Engine)

// WithDriver overrides hardware driver selection (tests inject
// hwdriver.NewFake(); production leaves this unset and gets a real
// PortaudioDriver).
func WithDriver(d hwdriver.Driver) Option {
	return func(e *Engine) { e.driverOverride = d }
}

// Engine is the Engine Facade (C6).
type Engine struct {
	logger *log.Logger
	cfg    config.Config

	driverOverride hwdriver.Driver
	driver         hwdriver.Driver
	pool           *buffer.Pool
	g              *graph.Graph

	shadow     *shadow.Shadow
	translator *addrtree.Translator
	sysexPort  sysex.Port
	control    *oscserver.Server
	lamp       *statuslamp.Lamp

	statusRing  chan StatusEvent
	statusSubMu sync.Mutex
	statusSubs  []func(StatusEvent)
	statusDone  chan struct{}
	statusWG    sync.WaitGroup

	pacedWG sync.WaitGroup

	running bool
}

// New constructs an uninitialized Engine. Call Initialize, then Run.
func New(logger *log.Logger, cfg config.Config, opts ...Option) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		logger:     logger,
		cfg:        cfg,
		statusRing: make(chan StatusEvent, statusRingCapacity),
		statusDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubscribeStatus registers a sink for posted status events. Subscribers
// are invoked from the single status thread, never from the RT thread
// directly (spec 4.10).
func (e *Engine) SubscribeStatus(fn func(StatusEvent)) {
	e.statusSubMu.Lock()
	defer e.statusSubMu.Unlock()
	e.statusSubs = append(e.statusSubs, fn)
}

// postStatus is the non-blocking producer side of the status ring; safe
// to call from any thread, including ones that must not block (spec 5).
func (e *Engine) postStatus(category StatusCategory, format string, args ...any) {
	ev := StatusEvent{Category: category, Message: fmt.Sprintf(format, args...)}
	select {
	case e.statusRing <- ev:
	default:
		// Ring full: drop the oldest pending event to make room rather
		// than block the poster (buffer.Pool's own never-block policy,
		// generalized from buffer acquisition to status posting).
		select {
		case <-e.statusRing:
		default:
		}
		select {
		case e.statusRing <- ev:
		default:
		}
	}
}

func (e *Engine) runStatusThread() {
	defer e.statusWG.Done()
	for {
		select {
		case ev := <-e.statusRing:
			e.statusSubMu.Lock()
			subs := append([]func(StatusEvent){}, e.statusSubs...)
			e.statusSubMu.Unlock()
			for _, fn := range subs {
				fn(ev)
			}
			if e.lamp != nil {
				lit := ev.Category == StatusNodeError || ev.Category == StatusDeviceError
				if err := e.lamp.Set(lit); err != nil {
					e.logger.Warn("engine: status lamp write failed", "error", err)
				}
			}
		case <-e.statusDone:
			// Drain whatever is left without blocking, then exit.
			for {
				select {
				case ev := <-e.statusRing:
					e.statusSubMu.Lock()
					subs := append([]func(StatusEvent){}, e.statusSubs...)
					e.statusSubMu.Unlock()
					for _, fn := range subs {
						fn(ev)
					}
				default:
					return
				}
			}
		}
	}
}

// Initialize loads nodes/connections, creates the pool, autoconfigures
// the hardware driver from discovered capabilities if not explicitly
// set, and — if a control-plane endpoint is configured — instantiates
// the Device Control Bridge (spec 4.10).
func (e *Engine) Initialize() error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	if e.cfg.Device.Kind == config.DeviceHardware {
		if err := e.initDriver(); err != nil {
			e.postStatus(StatusDeviceError, "driver init failed: %v", err)
			return err
		}
	}

	e.g = graph.New(e.logger)
	if err := e.buildGraph(); err != nil {
		return err
	}
	if err := e.g.Compile(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if e.cfg.Control != nil {
		if err := e.initControlBridge(); err != nil {
			e.postStatus(StatusDeviceError, "control bridge init failed: %v", err)
			return err
		}
	}

	e.statusWG.Add(1)
	go e.runStatusThread()
	e.postStatus(StatusLifecycle, "initialized")
	return nil
}

func (e *Engine) initDriver() error {
	if e.driverOverride != nil {
		e.driver = e.driverOverride
	} else {
		e.driver = hwdriver.New()
	}

	if e.cfg.Device.Name == "" {
		devices, err := e.driver.Enumerate()
		if err != nil {
			return fmt.Errorf("enumerate devices: %w", err)
		}
		best := ""
		for _, d := range devices {
			if d.MaxInputs >= len(e.cfg.Device.InputChannels) && d.MaxOutputs >= len(e.cfg.Device.OutputChannels) {
				best = d.Name
				break
			}
		}
		e.cfg.Device.Name = best
	}

	if err := e.driver.Open(e.cfg.Device.Name); err != nil {
		return fmt.Errorf("open %q: %w", e.cfg.Device.Name, err)
	}
	if _, _, err := e.driver.Init(float64(e.cfg.SampleRate), e.cfg.BufferFrames); err != nil {
		return fmt.Errorf("negotiate rate/block size: %w", err)
	}
	if err := e.driver.CreateBuffers(e.cfg.Device.InputChannels, e.cfg.Device.OutputChannels); err != nil {
		return fmt.Errorf("create buffers: %w", err)
	}
	return nil
}

func (e *Engine) initControlBridge() error {
	numInputs := len(e.cfg.Device.InputChannels)
	numOutputs := len(e.cfg.Device.OutputChannels)
	if numInputs == 0 {
		numInputs = 1
	}
	if numOutputs == 0 {
		numOutputs = 1
	}

	e.shadow = shadow.New(numInputs, numOutputs)

	tables, err := config.LoadTables()
	if err != nil {
		return fmt.Errorf("load enum tables: %w", err)
	}
	enums := addrtree.NewEnumTables(tables)
	e.translator = addrtree.New(e.shadow, enums, numInputs, numOutputs)

	port, err := e.openSysExPort()
	if err != nil {
		return fmt.Errorf("open sysex transport: %w", err)
	}
	e.sysexPort = port

	e.control = oscserver.New(e.logger, e.translator, e.shadow, e.sysexPort, oscserver.Config{
		ListenPort: e.cfg.Control.OSCListenPort,
		TargetHost: e.cfg.Control.OSCTargetHost,
		TargetPort: e.cfg.Control.OSCTargetPort,
	})

	if e.cfg.Control.StatusGPIOChip != "" {
		lamp, err := statuslamp.Open(e.cfg.Control.StatusGPIOChip, e.cfg.Control.StatusGPIOLine)
		if err != nil {
			e.logger.Warn("engine: status lamp unavailable", "error", err)
		} else {
			e.lamp = lamp
		}
	}
	return nil
}

func (e *Engine) openSysExPort() (sysex.Port, error) {
	if e.cfg.Control.SerialDevice != "" {
		return sysex.NewSerialPort(e.cfg.Control.SerialDevice, e.cfg.Control.SerialBaud)
	}
	return sysex.NewMIDIPort(e.cfg.Control.MIDIPortName)
}

// Run starts workers and the driver (spec 4.10).
func (e *Engine) Run() error {
	if e.running {
		return fmt.Errorf("engine: already running")
	}
	e.running = true

	if e.driver != nil {
		if err := e.driver.Start(e.g.HardwareCallback()); err != nil {
			e.postStatus(StatusDeviceError, "driver start failed: %v", err)
			return err
		}
	} else {
		e.pacedWG.Add(1)
		go func() {
			defer e.pacedWG.Done()
			e.g.RunPaced(e.cfg.BufferFrames, e.cfg.SampleRate, 1.0, func() bool { return !e.running })
		}()
	}

	if e.control != nil {
		if err := e.control.Start(); err != nil {
			e.postStatus(StatusControlError, "control server start failed: %v", err)
			return err
		}
	}

	e.postStatus(StatusLifecycle, "running")
	return nil
}

// stopDeadline bounds graph quiescence on Stop (spec 5: "a 2-tick deadline").
const stopDeadline = 2 * 20 * time.Millisecond

// Stop reverses Run with a bounded deadline (spec 4.10, spec 5).
func (e *Engine) Stop() error {
	if !e.running {
		return nil
	}
	e.running = false
	e.g.RequestStop()

	if e.driver != nil {
		if err := e.driver.Stop(); err != nil {
			e.logger.Warn("engine: driver stop error", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		e.pacedWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopDeadline):
		e.logger.Warn("engine: paced loop did not quiesce within deadline")
	}

	if e.control != nil {
		if err := e.control.Stop(); err != nil {
			e.logger.Warn("engine: control server stop error", "error", err)
		}
	}
	if e.lamp != nil {
		if err := e.lamp.Close(); err != nil {
			e.logger.Warn("engine: status lamp close error", "error", err)
		}
	}

	e.postStatus(StatusLifecycle, "stopped")
	close(e.statusDone)
	e.statusWG.Wait()
	return nil
}

// Snapshot returns the current device shadow snapshot, or the zero value
// if no control-plane bridge is configured (CLI's --dump-snapshot, spec
// 6.1).
func (e *Engine) Snapshot() (shadow.Snapshot, bool) {
	if e.shadow == nil {
		return shadow.Snapshot{}, false
	}
	return e.shadow.Snapshot(), true
}
