// Package config loads and validates the engine's boot-time JSON
// configuration file. JSON configuration loading is an out-of-scope,
// assumed-available concern — `encoding/json` is used directly rather
// than through a third-party decoder, the same way config.go owns its
// own flat-file parser rather than reaching for a library to parse
// direwolf.conf.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// DeviceKind selects whether the graph drives a real hardware device or
// runs file-only (spec 6: `device.kind in {"hardware","none"}`).
type DeviceKind string

const (
	DeviceHardware DeviceKind = "hardware"
	DeviceNone     DeviceKind = "none"
)

// NodeType enumerates the supported node kinds (spec 6).
type NodeType string

const (
	NodeHardwareSource NodeType = "hw_source"
	NodeHardwareSink   NodeType = "hw_sink"
	NodeFileSource     NodeType = "file_source"
	NodeFileSink       NodeType = "file_sink"
	NodeFilterChain    NodeType = "filter_chain"
)

// Device describes the hardware driver selection (spec 6).
type Device struct {
	Kind          DeviceKind `json:"kind"`
	Name          string     `json:"name,omitempty"`
	InputChannels []int      `json:"input_channels"`
	OutputChannels []int     `json:"output_channels"`
}

// NodeConfig is one entry of the `nodes` array (spec 6). Params is kept
// raw and decoded per node type, since each type's parameter set differs.
type NodeConfig struct {
	Name   string          `json:"name"`
	Type   NodeType        `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ConnectionConfig is one entry of the `connections` array (spec 6).
type ConnectionConfig struct {
	Src     string `json:"src"`
	SrcPort int    `json:"src_port"`
	Dst     string `json:"dst"`
	DstPort int    `json:"dst_port"`
}

// ControlConfig is the optional control-plane endpoint (spec 6).
type ControlConfig struct {
	OSCListenPort  int    `json:"osc_listen_port"`
	OSCTargetHost  string `json:"osc_target_host"`
	OSCTargetPort  int    `json:"osc_target_port"`
	DeviceID       int    `json:"device_id"`
	MIDIPortName   string `json:"midi_port_name,omitempty"`
	SerialDevice   string `json:"serial_device,omitempty"`
	SerialBaud     int    `json:"serial_baud,omitempty"`
	StatusGPIOChip string `json:"status_gpio_chip,omitempty"`
	StatusGPIOLine int    `json:"status_gpio_line,omitempty"`
}

// Config is the top-level JSON configuration document (spec 6).
type Config struct {
	SampleRate    int               `json:"sample_rate"`
	BufferFrames  int               `json:"buffer_frames"`
	Device        Device            `json:"device"`
	Nodes         []NodeConfig      `json:"nodes"`
	Connections   []ConnectionConfig `json:"connections"`
	Control       *ControlConfig    `json:"control,omitempty"`
}

// Error is the ConfigError kind from spec 7's error taxonomy: fatal at
// init, the engine never starts.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "config: " + e.Reason }

func configErrorf(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Load reads and validates a configuration file from path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, configErrorf("open %q: %v", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads and validates a configuration document from r.
func Decode(r io.Reader) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, configErrorf("invalid JSON: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field-level and cross-reference invariants (spec 7:
// "invalid JSON, unknown node type, cyclic graph, unknown channel index").
// Cycle detection itself happens in the graph's Compile step; Validate
// covers everything that can be checked from the document alone.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return configErrorf("sample_rate must be > 0, got %d", c.SampleRate)
	}
	if c.BufferFrames <= 0 {
		return configErrorf("buffer_frames must be > 0, got %d", c.BufferFrames)
	}
	switch c.Device.Kind {
	case DeviceHardware, DeviceNone:
	default:
		return configErrorf("device.kind must be %q or %q, got %q", DeviceHardware, DeviceNone, c.Device.Kind)
	}

	names := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Name == "" {
			return configErrorf("node with empty name")
		}
		if names[n.Name] {
			return configErrorf("duplicate node name %q", n.Name)
		}
		names[n.Name] = true

		switch n.Type {
		case NodeHardwareSource, NodeHardwareSink, NodeFileSource, NodeFileSink, NodeFilterChain:
		default:
			return configErrorf("node %q: unknown node type %q", n.Name, n.Type)
		}
	}

	for _, conn := range c.Connections {
		if !names[conn.Src] {
			return configErrorf("connection references unknown source node %q", conn.Src)
		}
		if !names[conn.Dst] {
			return configErrorf("connection references unknown destination node %q", conn.Dst)
		}
	}

	if c.Device.Kind == DeviceHardware {
		if err := validateChannelIndices(c.Device.InputChannels); err != nil {
			return configErrorf("device.input_channels: %v", err)
		}
		if err := validateChannelIndices(c.Device.OutputChannels); err != nil {
			return configErrorf("device.output_channels: %v", err)
		}
	}

	if c.Control != nil {
		if c.Control.OSCListenPort <= 0 || c.Control.OSCListenPort > 65535 {
			return configErrorf("control.osc_listen_port out of range: %d", c.Control.OSCListenPort)
		}
		if c.Control.OSCTargetPort <= 0 || c.Control.OSCTargetPort > 65535 {
			return configErrorf("control.osc_target_port out of range: %d", c.Control.OSCTargetPort)
		}
	}

	return nil
}

func validateChannelIndices(idxs []int) error {
	seen := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		if i < 0 {
			return fmt.Errorf("unknown channel index %d", i)
		}
		if seen[i] {
			return fmt.Errorf("duplicate channel index %d", i)
		}
		seen[i] = true
	}
	return nil
}
