package shadow

// Snapshot is a JSON-serializable deep copy of the shadow, written by the
// `--dump-snapshot` CLI flag (SPEC_FULL 4.6.1); the Control Server has no
// `/dump/save` handler. Grounded on log.go's periodic CSV packet log:
// materializing in-memory state to a file for post-hoc inspection,
// reworked from "one CSV line per packet" to "one JSON document per
// snapshot request".
type Snapshot struct {
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
	Mix     []MixEntry `json:"mix"`

	DuRec DuRec `json:"durec"`
	DSP   DSP   `json:"dsp"`

	InputLevels    []ChannelLevel `json:"input_levels"`
	OutputLevels   []ChannelLevel `json:"output_levels"`
	PlaybackLevels []ChannelLevel `json:"playback_levels"`
	FXInputLevels  []ChannelLevel `json:"fx_input_levels"`
	FXOutputLevels []ChannelLevel `json:"fx_output_levels"`
	PlaybackStereo []bool         `json:"playback_stereo"`

	RefreshInProgress bool `json:"refresh_in_progress"`
}

// MixEntry flattens the sparse Mix map into a JSON-friendly slice.
type MixEntry struct {
	Output int     `json:"output"`
	Source int     `json:"source"`
	Cell   MixCell `json:"cell"`
}

// Snapshot returns a deep, independent copy of the current shadow state.
func (s *Shadow) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Inputs:            append([]Input(nil), s.Inputs...),
		Outputs:           append([]Output(nil), s.Outputs...),
		DuRec:             s.DuRec,
		DSP:               s.DSP,
		InputLevels:       append([]ChannelLevel(nil), s.InputLevels...),
		OutputLevels:      append([]ChannelLevel(nil), s.OutputLevels...),
		PlaybackLevels:    append([]ChannelLevel(nil), s.PlaybackLevels...),
		FXInputLevels:     append([]ChannelLevel(nil), s.FXInputLevels...),
		FXOutputLevels:    append([]ChannelLevel(nil), s.FXOutputLevels...),
		PlaybackStereo:    append([]bool(nil), s.PlaybackStereo...),
		RefreshInProgress: s.RefreshInProgress,
	}
	snap.DuRec.Files = append([]DuRecFile(nil), s.DuRec.Files...)

	snap.Mix = make([]MixEntry, 0, len(s.Mix))
	for k, v := range s.Mix {
		snap.Mix = append(snap.Mix, MixEntry{Output: k.out, Source: k.src, Cell: v})
	}
	return snap
}
