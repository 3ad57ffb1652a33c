package addrtree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oscmex/engine/internal/devicebridge/sysex"
)

const clockSourceReg uint16 = 0x3D00

// SetClockSource implements spec 4.7's `setEnum`: accept a string (matched
// case-insensitively against the enum table) or an integer index.
func (t *Translator) SetClockSource(label string) (sysex.RegisterWrite, error) {
	idx, err := enumIndex(t.enums.ClockSource, label)
	if err != nil {
		return sysex.RegisterWrite{}, err
	}
	return sysex.RegisterWrite{Register: clockSourceReg, Value: int16(idx)}, nil
}

// NotifyClockSource decodes a clock-source register echo into a labeled
// OSC notification (spec 4.7: "enum labeling" — both the integer and its
// string label are included).
func (t *Translator) NotifyClockSource(val int16) OSCMessage {
	label := enumLabel(t.enums.ClockSource, int(val))
	return OSCMessage{Address: "/clock/source", Args: []any{int(val), label}}
}

// enumIndex accepts either a string label (matched case-insensitively) or
// an integer index given as a string (spec 4.7 setEnum: "accept string...
// or integer index").
func enumIndex(table []string, label string) (int, error) {
	for i, name := range table {
		if strings.EqualFold(name, label) {
			return i, nil
		}
	}
	if idx, err := strconv.Atoi(label); err == nil {
		if idx < 0 || idx >= len(table) {
			return 0, fmt.Errorf("addrtree: enum index %d out of range [0,%d]", idx, len(table)-1)
		}
		return idx, nil
	}
	return 0, fmt.Errorf("addrtree: %q is not a known enum value", label)
}
