package addrtree

import "strconv"

// HandleRegisterUpdate decodes a confirmed register update into shadow
// mutations plus the OSC notifications it produces (spec 4.6: the shadow
// becomes authoritative only on device echo; spec 4.7: notifiers dedup
// against the shadow and may emit more than one derived message).
func (t *Translator) HandleRegisterUpdate(reg uint16, val int16) []OSCMessage {
	if reg == refreshEchoReg {
		t.shadow.SetRefreshInProgress(false)
		return nil
	}

	if n, ok := inputStereoChannel(reg, t.numInputs); ok {
		return t.notifyInputStereo(n, val != 0)
	}
	if n, ok := outputStereoChannel(reg, t.numOutputs); ok {
		return t.notifyOutputStereo(n, val != 0)
	}
	if n, ok := inputGainChannel(reg, t.numInputs); ok {
		return t.notifyInputGain(n, val)
	}
	if n, ok := inputMuteChannel(reg, t.numInputs); ok {
		return t.notifyInputMute(n, val != 0)
	}
	if n, ok := outputVolChannel(reg, t.numOutputs); ok {
		return t.notifyOutputVolume(n, val)
	}
	if n, ok := outputLoopbackChannel(reg, t.numOutputs); ok {
		return t.notifyOutputLoopback(n, val != 0)
	}
	if out, src, ok := mixSummaryRegister(reg, t.numOutputs, t.numInputs); ok {
		return t.notifyMixSummary(out, src, reg, val)
	}
	if reg == clockSourceReg {
		return []OSCMessage{t.NotifyClockSource(val)}
	}

	// Unknown register: ignored without logging, not treated as fatal.
	return nil
}

func inputStereoChannel(reg uint16, count int) (int, bool) {
	return channelFromRegister(reg, stereoBase, stereoStride, count)
}

func outputStereoChannel(reg uint16, count int) (int, bool) {
	return channelFromRegister(reg, outputStereoBase, stereoStride, count)
}

func inputGainChannel(reg uint16, count int) (int, bool) {
	return channelFromRegister(reg, inputGainBase, inputGainStride, count)
}

func inputMuteChannel(reg uint16, count int) (int, bool) {
	return channelFromRegister(reg, inputMuteBase, inputGainStride, count)
}

func outputVolChannel(reg uint16, count int) (int, bool) {
	return channelFromRegister(reg, outputVolBase, outputVolStride, count)
}

func outputLoopbackChannel(reg uint16, count int) (int, bool) {
	return channelFromRegister(reg, loopbackBase, loopbackStride, count)
}

func channelFromRegister(reg, base, stride uint16, count int) (int, bool) {
	if reg < base {
		return 0, false
	}
	delta := reg - base
	if delta%stride != 0 {
		return 0, false
	}
	n := int(delta/stride) + 1
	if n < 1 || n > count {
		return 0, false
	}
	return n, true
}

// mixSummaryRegister recognizes the two summary registers (base, base+1)
// for some mix cell, within the valid output/source ranges.
func mixSummaryRegister(reg uint16, numOutputs, numInputs int) (out, src int, ok bool) {
	for o := 1; o <= numOutputs; o++ {
		for s := 1; s <= numInputs; s++ {
			base := mixCellRegister(o, s)
			if reg == base || reg == base+1 {
				return o, s, true
			}
		}
	}
	return 0, 0, false
}

func (t *Translator) notifyInputStereo(n int, v bool) []OSCMessage {
	changed := t.shadow.SetInputStereo(n, v)
	msgs := make([]OSCMessage, 0, len(changed))
	for _, c := range changed {
		msgs = append(msgs, OSCMessage{Address: inputAddr(c, "stereo"), Args: []any{boolToFloat(v)}})
	}
	return msgs
}

func (t *Translator) notifyOutputStereo(n int, v bool) []OSCMessage {
	changed := t.shadow.SetOutputStereo(n, v)
	msgs := make([]OSCMessage, 0, len(changed))
	for _, c := range changed {
		msgs = append(msgs, OSCMessage{Address: outputAddr(c, "stereo"), Args: []any{boolToFloat(v)}})
	}
	return msgs
}

func (t *Translator) notifyInputGain(n int, val int16) []OSCMessage {
	db := registerToDBTenths(val)
	if !t.shadow.SetInputGainDB(n, db) {
		return nil
	}
	return []OSCMessage{{Address: inputAddr(n, "gain"), Args: []any{db}}}
}

func (t *Translator) notifyInputMute(n int, v bool) []OSCMessage {
	if !t.shadow.SetInputMute(n, v) {
		return nil
	}
	return []OSCMessage{{Address: inputAddr(n, "mute"), Args: []any{boolToFloat(v)}}}
}

func (t *Translator) notifyOutputVolume(n int, val int16) []OSCMessage {
	db := registerToDBTenths(val)
	if !t.shadow.SetOutputVolumeDB(n, db) {
		return nil
	}
	return []OSCMessage{{Address: outputAddr(n, "volume"), Args: []any{db}}}
}

func (t *Translator) notifyOutputLoopback(n int, v bool) []OSCMessage {
	if !t.shadow.SetOutputLoopback(n, v) {
		return nil
	}
	return []OSCMessage{{Address: outputAddr(n, "loopback"), Args: []any{boolToFloat(v)}}}
}

// notifyMixSummary only fires off of the summary registers (base,
// base+1); the four per-side level registers preceding them in the same
// SysEx packet feed the same cell and are not separately notified, since
// spec 8's scenario 3 only names the db/pan summary as producing outbound
// OSC.
func (t *Translator) notifyMixSummary(out, src int, reg uint16, val int16) []OSCMessage {
	base := mixCellRegister(out, src)
	cell := t.shadow.GetMix(out, src)
	if reg == base {
		cell.VolDBTenths = val
	} else {
		cell.PanPercent = int8(val)
	}
	if !t.shadow.SetMix(out, src, cell) {
		return nil
	}

	db := registerToDBTenths(cell.VolDBTenths)
	msgs := []OSCMessage{{Address: mixAddr(out, src), Args: []any{db}}}
	if reg != base {
		msgs = append(msgs, OSCMessage{Address: mixAddr(out, src) + "/pan", Args: []any{float64(cell.PanPercent)}})
	}
	return msgs
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func inputAddr(n int, leaf string) string  { return fmtAddr("input", n, leaf) }
func outputAddr(n int, leaf string) string { return fmtAddr("output", n, leaf) }
func mixAddr(out, src int) string          { return fmtAddr("mix", out, "input") + "/" + strconv.Itoa(src) }

func fmtAddr(family string, n int, leaf string) string {
	return "/" + family + "/" + strconv.Itoa(n) + "/" + leaf
}
