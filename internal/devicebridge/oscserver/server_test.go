package oscserver

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypebeast/go-osc/osc"

	"github.com/oscmex/engine/internal/devicebridge/addrtree"
	"github.com/oscmex/engine/internal/devicebridge/shadow"
	"github.com/oscmex/engine/internal/devicebridge/sysex"
)

// fakePort is an in-memory sysex.Port double: writes land in Written,
// reads are served from a channel the test feeds (spec 4.8.1's Port
// interface, reworked into a test double rather than a real byte
// transport).
type fakePort struct {
	Written [][]byte
	toRead  chan []byte
	closed  bool
}

func newFakePort() *fakePort {
	return &fakePort{toRead: make(chan []byte, 16)}
}

func (p *fakePort) WriteFrame(f []byte) error {
	p.Written = append(p.Written, append([]byte(nil), f...))
	return nil
}

func (p *fakePort) ReadFrame() ([]byte, error) {
	f, ok := <-p.toRead
	if !ok {
		return nil, io.EOF
	}
	return f, nil
}

func (p *fakePort) Close() error {
	if !p.closed {
		p.closed = true
		close(p.toRead)
	}
	return nil
}

func newTestServer() (*Server, *fakePort, *shadow.Shadow) {
	sh := shadow.New(4, 4)
	tr := addrtree.New(sh, addrtree.EnumTables{}, 4, 4)
	port := newFakePort()
	s := New(nil, tr, sh, port, Config{ListenPort: 0, TargetHost: "127.0.0.1", TargetPort: 0})
	return s, port, sh
}

func TestFloatArgsConvertsSupportedTypes(t *testing.T) {
	out, err := floatArgs([]interface{}{float32(1.5), float64(2.5), int32(3), int64(4), true, false})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5, 3, 4, 1, 0}, out)
}

func TestFloatArgsRejectsUnsupportedType(t *testing.T) {
	_, err := floatArgs([]interface{}{"not a number"})
	assert.Error(t, err)
}

func TestDispatchMessageWritesSysExFrameOnValidAddress(t *testing.T) {
	s, port, _ := newTestServer()
	s.dispatchMessage(osc.NewMessage("/input/1/gain", 6.0))
	require.Len(t, port.Written, 1)
}

func TestDispatchMessageClockSourceAcceptsLabelAndIndex(t *testing.T) {
	sh := shadow.New(4, 4)
	tr := addrtree.New(sh, addrtree.EnumTables{ClockSource: []string{"internal", "word", "adat", "spdif"}}, 4, 4)
	port := newFakePort()
	s := New(nil, tr, sh, port, Config{ListenPort: 0, TargetHost: "127.0.0.1", TargetPort: 0})

	s.dispatchMessage(osc.NewMessage("/clock/source", "adat"))
	require.Len(t, port.Written, 1)

	s.dispatchMessage(osc.NewMessage("/clock/source", float32(1)))
	require.Len(t, port.Written, 2)

	msg, err := sysex.DecodeFrame(port.Written[1])
	require.NoError(t, err)
	require.NotNil(t, msg.Register)
	assert.Equal(t, int16(1), msg.Register.Value)
}

func TestDispatchMessageClockSourceRejectsUnknownLabel(t *testing.T) {
	sh := shadow.New(4, 4)
	tr := addrtree.New(sh, addrtree.EnumTables{ClockSource: []string{"internal", "word"}}, 4, 4)
	port := newFakePort()
	s := New(nil, tr, sh, port, Config{ListenPort: 0, TargetHost: "127.0.0.1", TargetPort: 0})

	s.dispatchMessage(osc.NewMessage("/clock/source", "nonexistent"))
	assert.Empty(t, port.Written)
}

func TestDispatchMessageDropsUnknownAddress(t *testing.T) {
	s, port, _ := newTestServer()
	s.dispatchMessage(osc.NewMessage("/bogus/thing"))
	assert.Empty(t, port.Written)
}

// spec 4.9: "do not request levels while a refresh is in progress" only
// has a real effect if dispatching /refresh actually sets the flag.
func TestDispatchMessageRefreshSetsInProgressAndWritesSentinel(t *testing.T) {
	s, port, sh := newTestServer()
	s.dispatchMessage(osc.NewMessage("/refresh"))
	require.Len(t, port.Written, 1)
	assert.True(t, sh.IsRefreshInProgress())

	s.onTick()
	assert.Len(t, port.Written, 1, "level request must be skipped while refresh is in progress")
}

func TestApplyLevelsUpdatesShadowInputLevels(t *testing.T) {
	s, _, sh := newTestServer()
	s.applyLevels(sysex.LevelUpdate{
		Kind: sysex.SubInputLevel,
		Channels: []sysex.ChannelLevel{
			{PeakDB: -3.0, RMSDB: -10.0},
			{PeakDB: -6.0, RMSDB: -12.0},
		},
	})
	assert.InDelta(t, -3.0, sh.InputLevels[0].PeakDB, 0.001)
	assert.InDelta(t, -12.0, sh.InputLevels[1].RMSDB, 0.001)
}

func TestOnTickSkipsLevelRequestDuringRefresh(t *testing.T) {
	s, port, sh := newTestServer()
	sh.SetRefreshInProgress(true)
	s.onTick()
	assert.Empty(t, port.Written)
}

func TestOnTickWritesHeartbeatEveryNTicks(t *testing.T) {
	s, port, _ := newTestServer()
	s.cfg.HeartbeatEveryTicks = 2

	s.onTick() // 1: level request only
	require.Len(t, port.Written, 1)

	s.onTick() // 2: level request + heartbeat
	require.Len(t, port.Written, 3)

	reg := decodeHeartbeatRegister(t, port.Written[2])
	assert.Equal(t, heartbeatReg, reg)
}

func TestOnTickWrapsHeartbeatCounterAt16(t *testing.T) {
	s, _, _ := newTestServer()
	s.cfg.HeartbeatEveryTicks = 1
	for i := 0; i < 16; i++ {
		s.onTick()
	}
	assert.Equal(t, uint8(0), s.heartbeat)
}

func TestStartAndStopOpensAndClosesCleanly(t *testing.T) {
	s, _, _ := newTestServer()
	require.NoError(t, s.Start())
	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, s.Stop())
}

func decodeHeartbeatRegister(t *testing.T, frame []byte) uint16 {
	t.Helper()
	msg, err := sysex.DecodeFrame(frame)
	require.NoError(t, err)
	require.NotNil(t, msg.Register)
	return msg.Register.Register
}
