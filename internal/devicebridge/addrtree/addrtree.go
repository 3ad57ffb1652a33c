// Package addrtree translates between the hierarchical OSC address space
// and the device's register file (spec 4.7), keeping the device shadow
// state in sync with confirmed register updates.
//
// The full device register map is not specified by name for every leaf
// (`/hardware/*`, `/durec/*`, ...); this package implements the concrete
// address families spec 8's literal scenarios pin down precisely (input
// gain, input stereo flag, mix matrix cell, refresh) plus the remaining
// setter/notifier shapes spec 4.7 describes (mute, output volume,
// loopback) using register formulas chosen to satisfy those scenarios and
// documented in DESIGN.md. Channel names are not translated: no address
// writes or decodes the name registers. Additional leaves are added the
// same way once their device register offsets are known.
//
// Grounded on src/server.go's AGW command dispatch table (one handler per
// command byte, mirrored by one encoder for replies), reworked from a flat
// command-byte switch into an address-segment translator over the shadow.
package addrtree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oscmex/engine/internal/config"
	"github.com/oscmex/engine/internal/devicebridge/shadow"
	"github.com/oscmex/engine/internal/devicebridge/sysex"
)

// Register layout constants. See the package doc comment: these satisfy
// spec 8's literal scenarios but are not derived from a published device
// register map beyond what those scenarios pin down.
const (
	inputGainBase    uint16 = 0x0200
	inputGainStride  uint16 = 0x0004
	inputMuteBase    uint16 = 0x0201
	stereoBase       uint16 = 0x0002
	stereoStride     uint16 = 0x0040
	outputStereoBase uint16 = 0x0022
	outputVolBase    uint16 = 0x0300
	outputVolStride  uint16 = 0x0004
	loopbackBase     uint16 = 0x0380
	loopbackStride   uint16 = 0x0004
	nameBaseInput    uint16 = 0x3000
	nameStrideInput  uint16 = 0x0008 // 8 registers * 2 ASCII bytes = 16-char name budget

	// The mix matrix gets its own region, clear of the input/output
	// families above (which top out under 0x0500 for any realistic
	// channel count) and clear of the level-register offsets (+0x2000/
	// +0x2001/+0x2040/+0x2041) added on top of a cell's base register,
	// which would otherwise run into the name table (0x3000+), the
	// clock-source register (0x3D00), and the refresh registers
	// (0x2FC0/0x3E04).
	mixRegionBase uint16 = 0x0800
	mixOutStride  uint16 = 0x0040
	mixSrcStride  uint16 = 0x0004

	refreshSentinelReg uint16 = 0x3E04
	refreshMagicValue  uint16 = 0x67CD
	refreshEchoReg     uint16 = 0x2FC0
)

// dBTenthsToRegister converts dB (as the OSC wire sends it) into the
// register's tenths-of-a-dB two's complement encoding (spec 4.7 setFixed,
// scale 0.1). Spec 8 gives +6.0dB -> 0x003C directly; for -65.0dB the
// parenthetical explicitly says "as 16-bit two's complement" which is only
// consistent with 0xFD76 (-650 as int16) — the literal 0x7D76 in spec.md
// is treated as a transcription typo (see DESIGN.md) and this function
// implements the internally-consistent two's complement form.
func dBTenthsToRegister(db float64) uint16 {
	tenths := int32(db*10 + sign(db)*0.5) // round half away from zero
	if tenths > 32767 {
		tenths = 32767
	}
	if tenths < -32768 {
		tenths = -32768
	}
	return uint16(int16(tenths))
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func registerToDBTenths(v int16) float64 { return float64(v) / 10 }

// OSCMessage is one outbound notification (spec 4.7).
type OSCMessage struct {
	Address string
	Args    []any
}

// EnumTables bundles the name tables loaded from config.Tables (SPEC_FULL
// 4.7.1) for setEnum/notifier enum-labeling.
type EnumTables struct {
	ClockSource  []string
	DuRecPlayMode []string
	EQCurve      []string
}

func NewEnumTables(t config.Tables) EnumTables {
	return EnumTables{
		ClockSource:   t.ClockSources,
		DuRecPlayMode: t.DuRecPlayModes,
		EQCurve:       t.EQCurves,
	}
}

func enumLabel(table []string, idx int) string {
	if idx < 0 || idx >= len(table) {
		return ""
	}
	return table[idx]
}

// Translator is the OSC<->register bridge over one Shadow (C8).
type Translator struct {
	shadow     *shadow.Shadow
	enums      EnumTables
	numInputs  int
	numOutputs int
}

func New(sh *shadow.Shadow, enums EnumTables, numInputs, numOutputs int) *Translator {
	return &Translator{shadow: sh, enums: enums, numInputs: numInputs, numOutputs: numOutputs}
}

// ErrUnknownAddress is returned by Dispatch for any address not matching a
// known family (spec 4.7: "if no child matches, dispatch fails with a
// specific error code").
var ErrUnknownAddress = fmt.Errorf("addrtree: no handler for address")

// Dispatch resolves an inbound OSC address (spec 4.7: literal segment
// equality, no wildcards) and returns the register writes it implies, plus
// any OSC messages that must be sent immediately rather than waiting for a
// device echo (currently only the /refresh snapshot, spec 4.7/4.9,
// scenario 4). Per spec 4.6, the shadow is otherwise NOT updated here —
// only once the device echoes a write does HandleRegisterUpdate update it.
func (t *Translator) Dispatch(address string, args []float64) ([]sysex.RegisterWrite, []OSCMessage, error) {
	segs := strings.Split(strings.Trim(address, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAddress, address)
	}

	switch segs[0] {
	case "input":
		writes, err := t.dispatchInput(segs[1:], args)
		return writes, nil, err
	case "output":
		writes, err := t.dispatchOutput(segs[1:], args)
		return writes, nil, err
	case "mix":
		writes, err := t.dispatchMix(segs[1:], args)
		return writes, nil, err
	case "refresh":
		if len(segs) != 1 {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAddress, address)
		}
		return t.dispatchRefresh()
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAddress, address)
	}
}

// dispatchRefresh implements spec 4.7's refresh-all and spec 4.9's "do not
// request levels while a refresh is in progress" guard together: it marks
// the refresh in progress (cleared on the 0x2FC0 echo by
// HandleRegisterUpdate), writes the sentinel register, and immediately
// re-publishes every playback channel's stereo flag as a snapshot bundle
// (scenario 4), since that re-publish reflects known shadow state rather
// than a device-confirmed change.
func (t *Translator) dispatchRefresh() ([]sysex.RegisterWrite, []OSCMessage, error) {
	t.shadow.SetRefreshInProgress(true)
	writes := []sysex.RegisterWrite{{Register: refreshSentinelReg, Value: int16(refreshMagicValue)}}
	return writes, t.playbackStereoSnapshot(), nil
}

func (t *Translator) playbackStereoSnapshot() []OSCMessage {
	snap := t.shadow.PlaybackStereoSnapshot()
	msgs := make([]OSCMessage, 0, len(snap))
	for n := 1; n <= len(snap); n++ {
		msgs = append(msgs, OSCMessage{Address: fmtAddr("playback", n, "stereo"), Args: []any{boolToFloat(snap[n])}})
	}
	return msgs
}

func (t *Translator) dispatchInput(segs []string, args []float64) ([]sysex.RegisterWrite, error) {
	if len(segs) != 2 {
		return nil, fmt.Errorf("%w: /input/%s", ErrUnknownAddress, strings.Join(segs, "/"))
	}
	n, err := channelNumber(segs[0], t.numInputs)
	if err != nil {
		return nil, err
	}

	switch segs[1] {
	case "gain":
		if len(args) != 1 {
			return nil, fmt.Errorf("addrtree: /input/%d/gain expects one float argument", n)
		}
		return []sysex.RegisterWrite{{
			Register: inputGainBase + uint16(n-1)*inputGainStride,
			Value:    int16(dBTenthsToRegister(args[0])),
		}}, nil
	case "mute":
		if len(args) != 1 {
			return nil, fmt.Errorf("addrtree: /input/%d/mute expects one argument", n)
		}
		return []sysex.RegisterWrite{{Register: inputMuteBase + uint16(n-1)*inputGainStride, Value: boolToInt16(args[0] != 0)}}, nil
	case "stereo":
		if len(args) != 1 {
			return nil, fmt.Errorf("addrtree: /input/%d/stereo expects one argument", n)
		}
		v := boolToInt16(args[0] != 0)
		reg1 := stereoBase + uint16(n-1)*stereoStride
		reg2 := stereoBase + uint16(pairedChannel(n)-1)*stereoStride
		return []sysex.RegisterWrite{{Register: reg1, Value: v}, {Register: reg2, Value: v}}, nil
	default:
		return nil, fmt.Errorf("%w: /input/%d/%s", ErrUnknownAddress, n, segs[1])
	}
}

func (t *Translator) dispatchOutput(segs []string, args []float64) ([]sysex.RegisterWrite, error) {
	if len(segs) != 2 {
		return nil, fmt.Errorf("%w: /output/%s", ErrUnknownAddress, strings.Join(segs, "/"))
	}
	n, err := channelNumber(segs[0], t.numOutputs)
	if err != nil {
		return nil, err
	}

	switch segs[1] {
	case "volume":
		if len(args) != 1 {
			return nil, fmt.Errorf("addrtree: /output/%d/volume expects one float argument", n)
		}
		return []sysex.RegisterWrite{{
			Register: outputVolBase + uint16(n-1)*outputVolStride,
			Value:    int16(dBTenthsToRegister(args[0])),
		}}, nil
	case "loopback":
		if len(args) != 1 {
			return nil, fmt.Errorf("addrtree: /output/%d/loopback expects one argument", n)
		}
		// Spec 4.7 notes loopback "uses a distinct SysEx sub-ID"; this
		// engine has only one register-write subcommand (0), so the
		// toggle is carried as an ordinary register write to a dedicated
		// loopback register rather than a separate wire subcommand — an
		// approximation recorded in DESIGN.md.
		return []sysex.RegisterWrite{{Register: loopbackBase + uint16(n-1)*loopbackStride, Value: boolToInt16(args[0] != 0)}}, nil
	case "stereo":
		if len(args) != 1 {
			return nil, fmt.Errorf("addrtree: /output/%d/stereo expects one argument", n)
		}
		v := boolToInt16(args[0] != 0)
		reg1 := outputStereoBase + uint16(n-1)*stereoStride
		reg2 := outputStereoBase + uint16(pairedChannel(n)-1)*stereoStride
		return []sysex.RegisterWrite{{Register: reg1, Value: v}, {Register: reg2, Value: v}}, nil
	default:
		return nil, fmt.Errorf("%w: /output/%d/%s", ErrUnknownAddress, n, segs[1])
	}
}

// mixCellRegister returns the base register for output `out`'s routing
// from source `src` (both 1-based), per spec 4.7's `setMix`.
func mixCellRegister(out, src int) uint16 {
	return mixRegionBase + uint16(out-1)*mixOutStride + uint16(src-1)*mixSrcStride
}

func (t *Translator) dispatchMix(segs []string, args []float64) ([]sysex.RegisterWrite, error) {
	// /mix/{out}/input/{src} vol [pan] [width]
	if len(segs) != 3 || segs[1] != "input" {
		return nil, fmt.Errorf("%w: /mix/%s", ErrUnknownAddress, strings.Join(segs, "/"))
	}
	out, err := channelNumber(segs[0], t.numOutputs)
	if err != nil {
		return nil, err
	}
	src, err := channelNumber(segs[2], t.numInputs)
	if err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, fmt.Errorf("addrtree: /mix/%d/input/%d expects at least a volume argument", out, src)
	}

	volDB := args[0]
	pan := 0.0
	if len(args) >= 2 {
		pan = args[1]
	}
	if pan < -100 || pan > 100 {
		return nil, fmt.Errorf("addrtree: pan %v out of range [-100,100]", pan)
	}

	base := mixCellRegister(out, src)
	volReg := dBTenthsToRegister(volDB)
	panReg := int16(pan)

	// Four per-side level registers for the stereo x stereo case (spec
	// 4.7). Every cell writes the same dB-tenths volume value to all four;
	// pan goes only to the summary register at base+1, and a third (width)
	// argument is accepted but not used.
	levelRegs := []uint16{base + 0x2000, base + 0x2001, base + 0x2040, base + 0x2041}
	writes := make([]sysex.RegisterWrite, 0, len(levelRegs)+2)
	for _, reg := range levelRegs {
		writes = append(writes, sysex.RegisterWrite{Register: reg, Value: int16(volReg)})
	}
	writes = append(writes,
		sysex.RegisterWrite{Register: base, Value: int16(volReg)},
		sysex.RegisterWrite{Register: base + 1, Value: panReg},
	)
	return writes, nil
}

func channelNumber(segment string, count int) (int, error) {
	n, err := strconv.Atoi(segment)
	if err != nil {
		return 0, fmt.Errorf("%w: channel segment %q is not numeric", ErrUnknownAddress, segment)
	}
	if n < 1 || n > count {
		return 0, fmt.Errorf("addrtree: channel index %d out of range [1,%d]", n, count)
	}
	return n, nil
}

func pairedChannel(n int) int {
	if n%2 == 1 {
		return n + 1
	}
	return n - 1
}

func boolToInt16(v bool) int16 {
	if v {
		return 1
	}
	return 0
}
