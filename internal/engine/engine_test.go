package engine

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmex/engine/internal/audiograph/buffer"
	"github.com/oscmex/engine/internal/audiograph/hwdriver"
	"github.com/oscmex/engine/internal/config"
)

func bufShape() buffer.Shape {
	return buffer.Shape{Frames: 32, SampleRate: 48000, Format: buffer.FormatF32, Layout: buffer.Stereo(), Planar: true}
}

func rawParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func hardwareLoopConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		SampleRate:   48000,
		BufferFrames: 32,
		Device: config.Device{
			Kind:           config.DeviceHardware,
			Name:           "fake0",
			InputChannels:  []int{0},
			OutputChannels: []int{0},
		},
		Nodes: []config.NodeConfig{
			{Name: "src", Type: config.NodeHardwareSource, Params: rawParams(t, hwChannelParams{Channels: []int{0}})},
			{Name: "sink", Type: config.NodeHardwareSink, Params: rawParams(t, hwChannelParams{Channels: []int{0}})},
		},
		Connections: []config.ConnectionConfig{
			{Src: "src", SrcPort: 0, Dst: "sink", DstPort: 0},
		},
	}
}

func TestInitializeRunStopLifecycleWithFakeDriver(t *testing.T) {
	cfg := hardwareLoopConfig(t)
	fake := hwdriver.NewFake(hwdriver.DeviceInfo{Name: "fake0", MaxInputs: 2, MaxOutputs: 2, DefaultSampleRt: 48000})

	e := New(nil, cfg, WithDriver(fake))

	var mu sync.Mutex
	var events []StatusEvent
	e.SubscribeStatus(func(ev StatusEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())

	for i := 0; i < 3; i++ {
		fake.Tick()
	}
	assert.Equal(t, 3, fake.TickCount)

	require.NoError(t, e.Stop())

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for lifecycle status events")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, StatusLifecycle, events[0].Category)
	assert.Equal(t, "initialized", events[0].Message)
	assert.Equal(t, StatusLifecycle, events[1].Category)
	assert.Equal(t, "running", events[1].Message)
	assert.Equal(t, StatusLifecycle, events[2].Category)
	assert.Equal(t, "stopped", events[2].Message)
}

func TestRunWithoutHardwareUsesPacedLoopAndStopsWithinDeadline(t *testing.T) {
	dir := t.TempDir()
	srcPath := dir + "/in.wav"
	dstPath := dir + "/out.wav"

	cfg := config.Config{
		SampleRate:   48000,
		BufferFrames: 16,
		Device:       config.Device{Kind: config.DeviceNone},
		Nodes: []config.NodeConfig{
			{Name: "src", Type: config.NodeFileSource, Params: rawParams(t, fileSourceParams{Path: srcPath, Paced: true})},
			{Name: "sink", Type: config.NodeFileSink, Params: rawParams(t, fileSinkParams{Path: dstPath})},
		},
		Connections: []config.ConnectionConfig{
			{Src: "src", SrcPort: 0, Dst: "sink", DstPort: 0},
		},
	}

	e := New(nil, cfg)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())

	start := time.Now()
	require.NoError(t, e.Stop())
	assert.Less(t, time.Since(start), 2*time.Second, "stop must return promptly")
}

func TestInitializeFailsOnInvalidConfig(t *testing.T) {
	cfg := config.Config{SampleRate: 0, BufferFrames: 32, Device: config.Device{Kind: config.DeviceNone}}
	e := New(nil, cfg)
	err := e.Initialize()
	require.Error(t, err)
}

func TestInitializeFailsOnUnknownFilterPreset(t *testing.T) {
	cfg := config.Config{
		SampleRate:   48000,
		BufferFrames: 32,
		Device:       config.Device{Kind: config.DeviceNone},
		Nodes: []config.NodeConfig{
			{Name: "fx", Type: config.NodeFilterChain, Params: rawParams(t, filterChainParams{Preset: "does-not-exist"})},
		},
	}
	e := New(nil, cfg)
	err := e.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestBuildFilterStagesResolvesNamedPresets(t *testing.T) {
	tables, err := config.LoadTables()
	require.NoError(t, err)

	for preset, want := range map[string]int{
		"flat":           1,
		"voice-hpf":       2,
		"broadcast-comp":  2,
	} {
		stages, err := buildFilterStages("fx", filterChainParams{Preset: preset}, bufShape(), tables)
		require.NoError(t, err, preset)
		assert.Len(t, stages, want, preset)
	}
}

func TestSnapshotReportsAbsentWithoutControlBridge(t *testing.T) {
	e := New(nil, config.Config{})
	_, ok := e.Snapshot()
	assert.False(t, ok)
}
