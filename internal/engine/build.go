package engine

import (
	"encoding/json"
	"fmt"

	"github.com/oscmex/engine/internal/audiograph/buffer"
	"github.com/oscmex/engine/internal/audiograph/graph"
	"github.com/oscmex/engine/internal/audiograph/node"
	"github.com/oscmex/engine/internal/config"
)

// hwChannelParams is the params shape for hw_source/hw_sink nodes (spec
// 6): which of device.input_channels/output_channels this node reads or
// writes, by position.
type hwChannelParams struct {
	Channels []int `json:"channels"`
}

type fileSourceParams struct {
	Path  string `json:"path"`
	Paced bool   `json:"paced"`
}

type fileSinkParams struct {
	Path string `json:"path"`
}

type filterChainParams struct {
	Preset string              `json:"preset,omitempty"`
	Stages []filterStageParams `json:"stages,omitempty"`
}

type filterStageParams struct {
	Kind   string             `json:"kind"`
	Params map[string]float64 `json:"params"`
}

// poolCapacity sizes the shared buffer pool generously above the number
// of edges in flight at once (spec 3: "size capacity to at least the
// maximum number of buffers in flight across every edge, plus 2").
func poolCapacity(numConnections int) int {
	return numConnections*2 + 4
}

// buildGraph decodes every configured node and connection into the
// processing graph, reusing the engine's shared pool for every node's
// buffer shape (spec 4.10: "creates the pool(s)").
func (e *Engine) buildGraph() error {
	shape := buffer.Shape{
		Frames:     e.cfg.BufferFrames,
		SampleRate: e.cfg.SampleRate,
		Format:     buffer.FormatF32,
		Layout:     buffer.Stereo(),
		Planar:     true,
	}
	if len(e.cfg.Device.InputChannels) == 1 && len(e.cfg.Device.OutputChannels) == 1 {
		shape.Layout = buffer.Mono()
	}

	pool, err := buffer.NewPool(shape, poolCapacity(len(e.cfg.Connections)))
	if err != nil {
		return fmt.Errorf("engine: build pool: %w", err)
	}
	e.pool = pool

	tables, err := config.LoadTables()
	if err != nil {
		return fmt.Errorf("engine: load filter presets: %w", err)
	}

	for _, nc := range e.cfg.Nodes {
		n, err := e.buildNode(nc, shape, tables)
		if err != nil {
			return fmt.Errorf("engine: node %q: %w", nc.Name, err)
		}
		e.g.AddNode(n)
	}

	for _, cc := range e.cfg.Connections {
		srcIdx, ok := e.g.NodeIndex(cc.Src)
		if !ok {
			return fmt.Errorf("engine: connection references unknown source %q", cc.Src)
		}
		dstIdx, ok := e.g.NodeIndex(cc.Dst)
		if !ok {
			return fmt.Errorf("engine: connection references unknown destination %q", cc.Dst)
		}
		conn := graph.Connection{SrcNode: srcIdx, SrcPort: cc.SrcPort, DstNode: dstIdx, DstPort: cc.DstPort}
		if err := e.g.Connect(conn); err != nil {
			return fmt.Errorf("engine: connect %s->%s: %w", cc.Src, cc.Dst, err)
		}
	}
	return nil
}

func (e *Engine) buildNode(nc config.NodeConfig, shape buffer.Shape, tables config.Tables) (node.Node, error) {
	switch nc.Type {
	case config.NodeHardwareSource:
		var p hwChannelParams
		if err := decodeParams(nc.Params, &p); err != nil {
			return nil, err
		}
		return node.NewHardwareSource(nc.Name, e.driver, p.Channels, e.pool), nil

	case config.NodeHardwareSink:
		var p hwChannelParams
		if err := decodeParams(nc.Params, &p); err != nil {
			return nil, err
		}
		return node.NewHardwareSink(nc.Name, e.driver, p.Channels, shape), nil

	case config.NodeFileSource:
		var p fileSourceParams
		if err := decodeParams(nc.Params, &p); err != nil {
			return nil, err
		}
		return node.NewFileSource(nc.Name, p.Path, e.pool, p.Paced), nil

	case config.NodeFileSink:
		var p fileSinkParams
		if err := decodeParams(nc.Params, &p); err != nil {
			return nil, err
		}
		return node.NewFileSink(nc.Name, p.Path, shape), nil

	case config.NodeFilterChain:
		var p filterChainParams
		if err := decodeParams(nc.Params, &p); err != nil {
			return nil, err
		}
		stages, err := buildFilterStages(nc.Name, p, shape, tables)
		if err != nil {
			return nil, err
		}
		return node.NewFilterChain(nc.Name, stages, e.pool), nil

	default:
		return nil, fmt.Errorf("unhandled node type %q", nc.Type)
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// buildFilterStages resolves either an explicit stage list or a named
// preset (SPEC_FULL 4.7.1/3.1) into concrete node.Filter instances.
func buildFilterStages(name string, p filterChainParams, shape buffer.Shape, tables config.Tables) ([]node.Filter, error) {
	specs := make([]filterStageParams, 0, len(p.Stages))
	if p.Preset != "" {
		preset, ok := tables.FilterPresets[p.Preset]
		if !ok {
			return nil, fmt.Errorf("unknown filter preset %q", p.Preset)
		}
		for _, s := range preset {
			specs = append(specs, filterStageParams{Kind: s.Kind, Params: s.Params})
		}
	}
	specs = append(specs, p.Stages...)

	channels := shape.Layout.Channels()
	stages := make([]node.Filter, 0, len(specs))
	for i, s := range specs {
		stageName := fmt.Sprintf("%s/%d_%s", name, i, s.Kind)
		stage, err := buildFilterStage(stageName, s, shape.SampleRate, channels)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func buildFilterStage(name string, s filterStageParams, sampleRate, channels int) (node.Filter, error) {
	switch s.Kind {
	case "one_pole_eq":
		return node.NewOnePoleEQ(name, sampleRate, channels, s.Params["cutoff_hz"], s.Params["gain_db"]), nil
	case "compressor":
		return node.NewCompressor(name, s.Params["threshold_db"], s.Params["ratio"], s.Params["makeup_db"]), nil
	case "auto_level":
		return node.NewAutoLevel(name, s.Params["target_rms"], s.Params["speed"]), nil
	default:
		return nil, fmt.Errorf("unknown filter stage kind %q", s.Kind)
	}
}
