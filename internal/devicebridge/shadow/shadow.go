// Package shadow holds the typed, coarse-locked mirror of device state
// (spec 4.6): it is authoritative only after the device echoes a write, and
// is the single source of truth the Control Server and Engine Facade read
// from to answer queries and detect changes worth notifying.
//
// Grounded on src/log.go's in-memory "last known state" bookkeeping used to
// suppress duplicate log lines, generalized from a handful of scalar
// fields into the full device attribute set spec 3 names.
package shadow

import "sync"

// Input mirrors one input channel's attributes (spec 3).
type Input struct {
	Stereo  bool
	Mute    bool
	Width   float64
	GainDB  float64
	Phantom bool
	HiZ     bool
	RefLvl  int
	Name    string
}

// Output mirrors one output channel's attributes (spec 3).
type Output struct {
	Stereo   bool
	VolumeDB float64
	Balance  float64
	Mute     bool
	Phase    bool
	RefLvl   int
	Crossfeed float64
	Loopback bool
}

// negInfTenths is the sentinel encoding of -infinity dB in tenths (spec 3).
const negInfTenths int16 = -650

// MixCell is one routing cell in the mix matrix (spec 3): output j, source
// k (inputs or playbacks).
type MixCell struct {
	PanPercent  int8  // [-100, +100]
	VolDBTenths int16 // [-650, +60], -650 is the -inf sentinel
}

// IsMuted reports whether the cell is at the -infinity sentinel.
func (c MixCell) IsMuted() bool { return c.VolDBTenths == negInfTenths }

// DuRecFile is one entry of the DuRec recorder's file list (spec 3).
type DuRecFile struct {
	SampleRate int
	Channels   int
	Length     int
	Name       string // 9 characters, per spec 3
}

// DuRec mirrors the recorder's state (spec 3).
type DuRec struct {
	Status          string
	PositionPercent float64
	TimeSeconds     float64
	USBLoadPercent  float64
	USBErrors       int
	FreeSpaceMB     int64
	TotalSpaceMB    int64
	Files           []DuRecFile
	CurrentFile     int
	PlayMode        string
	NextIndex       int
	RecordTimer     float64
}

// DSP mirrors the device's DSP load/firmware state (spec 3).
type DSP struct {
	FirmwareVersion string
	LoadPercent     float64
}

// ChannelLevel is one channel's peak/RMS meter shadow (spec 3).
type ChannelLevel struct {
	PeakDB float64
	RMSDB  float64
}

// mixKey addresses one Mix cell by (output index, source index), both
// 1-based to match OSC addressing.
type mixKey struct{ out, src int }

// Shadow is the coarse-locked device mirror (spec 4.6: "all accessors are
// coarse-locked at the shadow level").
type Shadow struct {
	mu sync.Mutex

	Inputs  []Input
	Outputs []Output
	Mix     map[mixKey]MixCell

	DuRec DuRec
	DSP   DSP

	InputLevels    []ChannelLevel
	OutputLevels   []ChannelLevel
	PlaybackLevels []ChannelLevel
	FXInputLevels  []ChannelLevel
	FXOutputLevels []ChannelLevel

	// PlaybackStereo mirrors the stereo-pair flag of each playback
	// channel (the DAW-return mixer source, one per output), re-published
	// wholesale on /refresh (spec 4.7, scenario 4).
	PlaybackStereo []bool

	RefreshInProgress bool
}

// New builds an empty shadow sized for numInputs/numOutputs channels.
func New(numInputs, numOutputs int) *Shadow {
	return &Shadow{
		Inputs:         make([]Input, numInputs),
		Outputs:        make([]Output, numOutputs),
		Mix:            make(map[mixKey]MixCell),
		InputLevels:    make([]ChannelLevel, numInputs),
		OutputLevels:   make([]ChannelLevel, numOutputs),
		PlaybackLevels: make([]ChannelLevel, numOutputs),
		FXInputLevels:  make([]ChannelLevel, numInputs),
		FXOutputLevels: make([]ChannelLevel, numOutputs),
		PlaybackStereo: make([]bool, numOutputs),
	}
}

// channelIndex converts a 1-based OSC channel number to a 0-based slice
// index, returning false if out of range.
func channelIndex(n, count int) (int, bool) {
	i := n - 1
	return i, i >= 0 && i < count
}

// SetInputStereo sets the stereo flag for input n (1-based) and, per spec
// 3's symmetry invariant, also sets it on the paired channel. Returns the
// set of 1-based channel numbers whose value actually changed, for
// dedup'd notification fan-out (spec 4.7: "derived broadcasts").
func (s *Shadow) SetInputStereo(n int, v bool) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := pairedChannel(n)
	var changed []int
	if i, ok := channelIndex(n, len(s.Inputs)); ok && s.Inputs[i].Stereo != v {
		s.Inputs[i].Stereo = v
		changed = append(changed, n)
	}
	if i, ok := channelIndex(pair, len(s.Inputs)); ok && s.Inputs[i].Stereo != v {
		s.Inputs[i].Stereo = v
		changed = append(changed, pair)
	}
	return changed
}

// pairedChannel returns the other half of a stereo pair for a 1-based
// channel number. Channel pairs are (1,2), (3,4), (5,6)... so the pair of
// an odd N is N+1 and the pair of an even N is N-1.
func pairedChannel(n int) int {
	if n%2 == 1 {
		return n + 1
	}
	return n - 1
}

func (s *Shadow) SetInputGainDB(n int, db float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := channelIndex(n, len(s.Inputs))
	if !ok || s.Inputs[i].GainDB == db {
		return false
	}
	s.Inputs[i].GainDB = db
	return true
}

func (s *Shadow) SetInputMute(n int, v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := channelIndex(n, len(s.Inputs))
	if !ok || s.Inputs[i].Mute == v {
		return false
	}
	s.Inputs[i].Mute = v
	return true
}

func (s *Shadow) SetOutputStereo(n int, v bool) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := pairedChannel(n)
	var changed []int
	if i, ok := channelIndex(n, len(s.Outputs)); ok && s.Outputs[i].Stereo != v {
		s.Outputs[i].Stereo = v
		changed = append(changed, n)
	}
	if i, ok := channelIndex(pair, len(s.Outputs)); ok && s.Outputs[i].Stereo != v {
		s.Outputs[i].Stereo = v
		changed = append(changed, pair)
	}
	return changed
}

func (s *Shadow) SetOutputVolumeDB(n int, db float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := channelIndex(n, len(s.Outputs))
	if !ok || s.Outputs[i].VolumeDB == db {
		return false
	}
	s.Outputs[i].VolumeDB = db
	return true
}

func (s *Shadow) SetOutputLoopback(n int, v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := channelIndex(n, len(s.Outputs))
	if !ok || s.Outputs[i].Loopback == v {
		return false
	}
	s.Outputs[i].Loopback = v
	return true
}

// SetMix records a mix matrix cell and reports whether it changed.
func (s *Shadow) SetMix(out, src int, cell MixCell) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mixKey{out, src}
	if existing, ok := s.Mix[key]; ok && existing == cell {
		return false
	}
	s.Mix[key] = cell
	return true
}

func (s *Shadow) GetMix(out, src int) MixCell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Mix[mixKey{out, src}]
}

func (s *Shadow) SetRefreshInProgress(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RefreshInProgress = v
}

func (s *Shadow) IsRefreshInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RefreshInProgress
}

func (s *Shadow) SetInputLevel(n int, lvl ChannelLevel, fx bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst := s.InputLevels
	if fx {
		dst = s.FXInputLevels
	}
	if i, ok := channelIndex(n, len(dst)); ok {
		dst[i] = lvl
	}
}

func (s *Shadow) SetOutputLevel(n int, lvl ChannelLevel, fx bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst := s.OutputLevels
	if fx {
		dst = s.FXOutputLevels
	}
	if i, ok := channelIndex(n, len(dst)); ok {
		dst[i] = lvl
	}
}

func (s *Shadow) SetPlaybackLevel(n int, lvl ChannelLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := channelIndex(n, len(s.PlaybackLevels)); ok {
		s.PlaybackLevels[i] = lvl
	}
}

// PlaybackStereoSnapshot returns a copy of every playback channel's
// stereo flag, 1-based channel number to value, for the /refresh
// re-publish (spec 4.7, scenario 4: "re-emits all 8 playback stereo
// flags as a snapshot").
func (s *Shadow) PlaybackStereoSnapshot() map[int]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]bool, len(s.PlaybackStereo))
	for i, v := range s.PlaybackStereo {
		out[i+1] = v
	}
	return out
}
