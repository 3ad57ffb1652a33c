// Package oscserver is the UDP control-plane endpoint (spec 4.9): it
// receives inbound OSC, resolves addresses through the address tree,
// writes the resulting SysEx frames to the device, reads the device's own
// SysEx stream back, and republishes it as outbound OSC notifications —
// one bundle per inbound SysEx packet. A wall-clock timer drives periodic
// level requests and a heartbeat register write.
//
// Grounded on src/server.go's AGW TCP server: one goroutine reading
// framed requests off the wire and dispatching by command byte, one
// outbound path serializing replies, reworked from a TCP command server
// onto a UDP OSC server with the SysEx transport standing in for the
// binary AGW protocol on the "device" side.
package oscserver

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hypebeast/go-osc/osc"

	"github.com/oscmex/engine/internal/devicebridge/addrtree"
	"github.com/oscmex/engine/internal/devicebridge/shadow"
	"github.com/oscmex/engine/internal/devicebridge/sysex"
)

// heartbeatReg is the Control Server's own periodic keep-alive register
// (spec 4.9).
const heartbeatReg uint16 = 0x3F00

// Config configures one Server instance (spec 6: the `control` config
// object).
type Config struct {
	ListenPort          int
	TargetHost          string
	TargetPort          int
	TickInterval        time.Duration // spec 4.9: "wall-clock, e.g. 30/60 Hz"
	HeartbeatEveryTicks int
}

// Server is the Control Server (C10).
type Server struct {
	logger *log.Logger
	tr     *addrtree.Translator
	sh     *shadow.Shadow
	port   sysex.Port
	client *osc.Client
	cfg    Config

	conn *net.UDPConn

	mu          sync.Mutex
	heartbeat   uint8
	tickCounter int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Server bound to the given translator/shadow/SysEx port.
// Start must be called to open sockets and begin serving.
func New(logger *log.Logger, tr *addrtree.Translator, sh *shadow.Shadow, port sysex.Port, cfg Config) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second / 30
	}
	if cfg.HeartbeatEveryTicks <= 0 {
		cfg.HeartbeatEveryTicks = 30
	}
	return &Server{
		logger: logger,
		tr:     tr,
		sh:     sh,
		port:   port,
		client: osc.NewClient(cfg.TargetHost, cfg.TargetPort),
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start opens the UDP listen socket and launches the inbound-OSC,
// inbound-SysEx, and periodic-timer goroutines (spec 5: "control server
// thread", "MIDI I/O threads", "timer thread").
func (s *Server) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("oscserver: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("oscserver: listen: %w", err)
	}
	s.conn = conn

	s.wg.Add(3)
	go s.serveOSC()
	go s.serveSysEx()
	go s.runTimer()
	return nil
}

// Stop closes the listen socket and the SysEx port, then waits for all
// server goroutines to exit.
func (s *Server) Stop() error {
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
	}
	portErr := s.port.Close()
	s.wg.Wait()
	return portErr
}

// serveOSC reads inbound UDP packets and resolves each OSC message
// through the address tree, writing the resulting register writes to the
// SysEx port (spec 4.9: "registers handlers for each setter in the
// address tree").
func (s *Server) serveOSC() {
	defer s.wg.Done()
	buf := make([]byte, 65536)
	for {
		s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				select {
				case <-s.stopCh:
					return
				default:
					continue
				}
			}
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn("oscserver: udp read error", "error", err)
				continue
			}
		}

		pkt, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			s.logger.Warn("oscserver: malformed OSC packet", "error", err)
			continue
		}
		s.dispatchPacket(pkt)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Server) dispatchPacket(pkt osc.Packet) {
	switch p := pkt.(type) {
	case *osc.Message:
		s.dispatchMessage(p)
	case *osc.Bundle:
		for _, m := range p.Messages {
			s.dispatchMessage(m)
		}
		for _, b := range p.Bundles {
			s.dispatchPacket(b)
		}
	}
}

// dispatchMessage implements spec 7's ControlError policy: malformed OSC,
// out-of-range values, and unknown addresses are a silent drop + log,
// never a crash.
func (s *Server) dispatchMessage(msg *osc.Message) {
	// /clock/source is a setEnum leaf (spec 4.7) that accepts a string
	// label as well as a numeric index, so it bypasses the all-numeric
	// floatArgs conversion every other leaf uses.
	if msg.Address == "/clock/source" {
		s.dispatchClockSource(msg)
		return
	}

	args, err := floatArgs(msg.Arguments)
	if err != nil {
		s.logger.Warn("oscserver: non-numeric OSC argument", "address", msg.Address, "error", err)
		return
	}

	writes, immediate, err := s.tr.Dispatch(msg.Address, args)
	if err != nil {
		s.logger.Debug("oscserver: dispatch rejected", "address", msg.Address, "error", err)
		return
	}
	for _, w := range writes {
		if err := s.port.WriteFrame(sysex.EncodeRegisterWrite(w.Register, w.Value)); err != nil {
			s.logger.Warn("oscserver: sysex write failed", "register", w.Register, "error", err)
		}
	}
	s.sendBundle(immediate)
}

func (s *Server) dispatchClockSource(msg *osc.Message) {
	if len(msg.Arguments) != 1 {
		s.logger.Warn("oscserver: /clock/source expects exactly one argument")
		return
	}
	label, err := clockSourceArg(msg.Arguments[0])
	if err != nil {
		s.logger.Warn("oscserver: non-numeric, non-string OSC argument", "address", msg.Address, "error", err)
		return
	}
	w, err := s.tr.SetClockSource(label)
	if err != nil {
		s.logger.Debug("oscserver: dispatch rejected", "address", msg.Address, "error", err)
		return
	}
	if err := s.port.WriteFrame(sysex.EncodeRegisterWrite(w.Register, w.Value)); err != nil {
		s.logger.Warn("oscserver: sysex write failed", "register", w.Register, "error", err)
	}
}

// clockSourceArg accepts either the string label or the numeric index form
// of spec 4.7's setEnum argument.
func clockSourceArg(a interface{}) (string, error) {
	switch v := a.(type) {
	case string:
		return v, nil
	case float32:
		return strconv.Itoa(int(v)), nil
	case float64:
		return strconv.Itoa(int(v)), nil
	case int32:
		return strconv.Itoa(int(v)), nil
	case int64:
		return strconv.Itoa(int(v)), nil
	default:
		return "", fmt.Errorf("oscserver: unsupported /clock/source argument type %T", a)
	}
}

// sendBundle flushes a set of OSC notifications as a single UDP send, the
// same "one bundle per packet processed" shape handleSysExMessage uses for
// device-echoed notifications (spec 4.9, spec 5).
func (s *Server) sendBundle(msgs []addrtree.OSCMessage) {
	if len(msgs) == 0 {
		return
	}
	bundle := osc.NewBundle(time.Now())
	for _, m := range msgs {
		bundle.Append(osc.NewMessage(m.Address, m.Args...))
	}
	if err := s.client.Send(bundle); err != nil {
		s.logger.Warn("oscserver: outbound bundle send failed", "error", err)
	}
}

func floatArgs(raw []interface{}) ([]float64, error) {
	out := make([]float64, 0, len(raw))
	for _, a := range raw {
		switch v := a.(type) {
		case float32:
			out = append(out, float64(v))
		case float64:
			out = append(out, v)
		case int32:
			out = append(out, float64(v))
		case int64:
			out = append(out, float64(v))
		case bool:
			if v {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		default:
			return nil, fmt.Errorf("oscserver: unsupported argument type %T", a)
		}
	}
	return out, nil
}

// serveSysEx reads frames off the device's SysEx stream, decodes them,
// and republishes every inbound packet's notifications as a single
// outbound OSC bundle (spec 5: "OSC notifications within one inbound
// SysEx packet are grouped into one bundle (atomic delivery)").
func (s *Server) serveSysEx() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		frame, err := s.port.ReadFrame()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn("oscserver: sysex read failed", "error", err)
				continue
			}
		}

		msg, err := sysex.DecodeFrame(frame)
		if err != nil {
			s.logger.Debug("oscserver: sysex decode rejected", "error", err)
			continue
		}
		s.handleSysExMessage(msg)
	}
}

func (s *Server) handleSysExMessage(msg sysex.Message) {
	var outbound []addrtree.OSCMessage
	switch {
	case msg.Register != nil:
		outbound = s.tr.HandleRegisterUpdate(msg.Register.Register, msg.Register.Value)
	case msg.Levels != nil:
		s.applyLevels(*msg.Levels)
	}
	s.sendBundle(outbound)
}

func (s *Server) applyLevels(lvl sysex.LevelUpdate) {
	fx := lvl.Kind == sysex.SubInputLevelFX || lvl.Kind == sysex.SubOutputLevelFX
	for i, ch := range lvl.Channels {
		n := i + 1
		cl := shadow.ChannelLevel{PeakDB: ch.PeakDB, RMSDB: ch.RMSDB}
		switch lvl.Kind {
		case sysex.SubInputLevel, sysex.SubInputLevelFX:
			s.sh.SetInputLevel(n, cl, fx)
		case sysex.SubPlaybackLevel:
			s.sh.SetPlaybackLevel(n, cl)
		case sysex.SubOutputLevel, sysex.SubOutputLevelFX:
			s.sh.SetOutputLevel(n, cl, fx)
		}
	}
}

// runTimer drives the periodic level-request + heartbeat write (spec 4.9):
// skips level requests while a refresh is in progress, and writes an
// incrementing 4-bit heartbeat counter every HeartbeatEveryTicks ticks.
func (s *Server) runTimer() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Server) onTick() {
	if !s.sh.IsRefreshInProgress() {
		if err := s.port.WriteFrame(sysex.EncodeLevelRequest(sysex.SubPlaybackLevel)); err != nil {
			s.logger.Warn("oscserver: level request write failed", "error", err)
		}
	}

	s.mu.Lock()
	s.tickCounter++
	due := s.tickCounter >= s.cfg.HeartbeatEveryTicks
	if due {
		s.tickCounter = 0
		s.heartbeat = (s.heartbeat + 1) & 0x0F
		hb := s.heartbeat
		s.mu.Unlock()
		if err := s.port.WriteFrame(sysex.EncodeRegisterWrite(heartbeatReg, int16(hb))); err != nil {
			s.logger.Warn("oscserver: heartbeat write failed", "error", err)
		}
		return
	}
	s.mu.Unlock()
}
