package config

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var tablesYAML []byte

// FilterStageSpec names one stage of a named FilterChain preset (SPEC_FULL
// 3.1): a filter kind plus its construction parameters.
type FilterStageSpec struct {
	Kind   string             `yaml:"kind"`
	Params map[string]float64 `yaml:"params"`
}

// Tables holds the static enum name tables and FilterChain presets bundled
// with the binary (SPEC_FULL 3.1/4.7.1), grounded on deviceid.go's
// tocalls.yaml vendor/model table loader.
type Tables struct {
	ClockSources   []string                     `yaml:"clock_sources"`
	DuRecPlayModes []string                     `yaml:"durec_play_modes"`
	EQCurves       []string                     `yaml:"eq_curves"`
	FilterPresets  map[string][]FilterStageSpec `yaml:"filter_presets"`
}

// LoadTables decodes the embedded tables.yaml asset. It never fails for a
// binary built from this module (the asset is compiled in), but returns an
// error rather than panicking so callers can fail init cleanly if a
// hand-edited build ships a malformed asset.
func LoadTables() (Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(tablesYAML, &t); err != nil {
		return Tables{}, err
	}
	return t, nil
}
