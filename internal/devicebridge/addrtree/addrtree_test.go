package addrtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmex/engine/internal/devicebridge/shadow"
)

func newTestTranslator() (*Translator, *shadow.Shadow) {
	sh := shadow.New(8, 8)
	enums := EnumTables{ClockSource: []string{"internal", "word", "adat", "spdif"}}
	return New(sh, enums, 8, 8), sh
}

// spec 8 scenario 1: gain set round-trip.
func TestDispatchInputGainThenEchoUpdatesShadow(t *testing.T) {
	tr, sh := newTestTranslator()

	writes, _, err := tr.Dispatch("/input/3/gain", []float64{6.0})
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, inputGainBase+uint16(2)*inputGainStride, writes[0].Register)
	assert.Equal(t, int16(0x003C), writes[0].Value)

	// Shadow untouched until the device echoes the write (spec 4.6).
	assert.InDelta(t, 0.0, sh.Inputs[2].GainDB, 0.001)

	msgs := tr.HandleRegisterUpdate(writes[0].Register, writes[0].Value)
	require.Len(t, msgs, 1)
	assert.Equal(t, "/input/3/gain", msgs[0].Address)
	assert.InDelta(t, 6.0, msgs[0].Args[0].(float64), 0.001)
	assert.InDelta(t, 6.0, sh.Inputs[2].GainDB, 0.001)
}

// spec 8 scenario 2: stereo pair propagation broadcasts to both channels.
func TestDispatchInputStereoPropagatesToPairedChannel(t *testing.T) {
	tr, _ := newTestTranslator()

	writes, _, err := tr.Dispatch("/input/5/stereo", []float64{1})
	require.NoError(t, err)
	require.Len(t, writes, 2)
	assert.Equal(t, stereoBase+uint16(4)*stereoStride, writes[0].Register)
	assert.Equal(t, stereoBase+uint16(5)*stereoStride, writes[1].Register)

	msgs := tr.HandleRegisterUpdate(writes[0].Register, writes[0].Value)
	require.Len(t, msgs, 2)
	addrs := []string{msgs[0].Address, msgs[1].Address}
	assert.Contains(t, addrs, "/input/5/stereo")
	assert.Contains(t, addrs, "/input/6/stereo")
}

// spec 8 scenario 3: mix cell writes vol+pan registers and notifies both.
func TestDispatchMixCellSetsLevelAndPanSummaryRegisters(t *testing.T) {
	tr, _ := newTestTranslator()

	writes, _, err := tr.Dispatch("/mix/1/input/2", []float64{-6.0, 25})
	require.NoError(t, err)
	require.Len(t, writes, 6)

	base := mixCellRegister(1, 2)
	var volWrite, panWrite *int16
	for _, w := range writes {
		if w.Register == base {
			v := w.Value
			volWrite = &v
		}
		if w.Register == base+1 {
			v := w.Value
			panWrite = &v
		}
	}
	require.NotNil(t, volWrite)
	require.NotNil(t, panWrite)
	assert.Equal(t, int16(25), *panWrite)

	volMsgs := tr.HandleRegisterUpdate(base, *volWrite)
	require.Len(t, volMsgs, 1)
	assert.Equal(t, "/mix/1/input/2", volMsgs[0].Address)

	panMsgs := tr.HandleRegisterUpdate(base+1, *panWrite)
	require.Len(t, panMsgs, 2)
	assert.Equal(t, "/mix/1/input/2/pan", panMsgs[1].Address)
}

// spec 8 scenario 4: refresh sentinel write, in-progress flag set and the
// playback-stereo snapshot emitted immediately, then echo clears
// in-progress.
func TestDispatchRefreshThenEchoClearsInProgress(t *testing.T) {
	tr, sh := newTestTranslator()

	writes, snapshot, err := tr.Dispatch("/refresh", nil)
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, refreshSentinelReg, writes[0].Register)
	assert.Equal(t, int16(refreshMagicValue), writes[0].Value)

	assert.True(t, sh.IsRefreshInProgress())

	require.Len(t, snapshot, 8)
	assert.Equal(t, "/playback/1/stereo", snapshot[0].Address)
	assert.Equal(t, "/playback/8/stereo", snapshot[7].Address)

	msgs := tr.HandleRegisterUpdate(refreshEchoReg, 0)
	assert.Nil(t, msgs)
	assert.False(t, sh.IsRefreshInProgress())
}

func TestDispatchRejectsUnknownAddress(t *testing.T) {
	tr, _ := newTestTranslator()
	_, _, err := tr.Dispatch("/bogus/1/thing", []float64{1})
	assert.ErrorIs(t, err, ErrUnknownAddress)
}

func TestDispatchRejectsChannelOutOfRange(t *testing.T) {
	tr, _ := newTestTranslator()
	_, _, err := tr.Dispatch("/input/99/gain", []float64{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestHandleRegisterUpdateDedupsUnchangedGain(t *testing.T) {
	tr, _ := newTestTranslator()
	reg := inputGainBase + uint16(1)*inputGainStride

	msgs := tr.HandleRegisterUpdate(reg, 0x003C)
	require.Len(t, msgs, 1)

	msgs = tr.HandleRegisterUpdate(reg, 0x003C)
	assert.Nil(t, msgs)
}

func TestSetClockSourceMatchesLabelCaseInsensitively(t *testing.T) {
	tr, _ := newTestTranslator()

	w, err := tr.SetClockSource("ADAT")
	require.NoError(t, err)
	assert.Equal(t, clockSourceReg, w.Register)
	assert.Equal(t, int16(2), w.Value)

	_, err = tr.SetClockSource("nonexistent")
	assert.Error(t, err)
}

func TestNotifyClockSourceIncludesLabel(t *testing.T) {
	tr, _ := newTestTranslator()
	msg := tr.NotifyClockSource(3)
	assert.Equal(t, "/clock/source", msg.Address)
	assert.Equal(t, 3, msg.Args[0])
	assert.Equal(t, "spdif", msg.Args[1])
}
