package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `{
  "sample_rate": 48000,
  "buffer_frames": 512,
  "device": {"kind": "hardware", "input_channels": [0,1], "output_channels": [0,1]},
  "nodes": [
    {"name": "src", "type": "hw_source"},
    {"name": "sink", "type": "hw_sink"}
  ],
  "connections": [
    {"src": "src", "src_port": 0, "dst": "sink", "dst_port": 0}
  ]
}`

func TestDecodeAcceptsValidDocument(t *testing.T) {
	cfg, err := Decode(strings.NewReader(validDoc))
	require.NoError(t, err)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Len(t, cfg.Nodes, 2)
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	_, err := Decode(strings.NewReader("{not json"))
	require.Error(t, err)
	var cerr *Error
	assert.ErrorAs(t, err, &cerr)
}

func TestDecodeRejectsUnknownNodeType(t *testing.T) {
	doc := strings.Replace(validDoc, `"type": "hw_source"`, `"type": "bogus"`, 1)
	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type")
}

func TestDecodeRejectsUnknownConnectionEndpoint(t *testing.T) {
	doc := strings.Replace(validDoc, `"dst": "sink"`, `"dst": "nonexistent"`, 1)
	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown destination node")
}

func TestDecodeRejectsDuplicateChannelIndex(t *testing.T) {
	doc := strings.Replace(validDoc, `"input_channels": [0,1]`, `"input_channels": [0,0]`, 1)
	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate channel index")
}

func TestLoadTablesDecodesEmbeddedAsset(t *testing.T) {
	tables, err := LoadTables()
	require.NoError(t, err)
	assert.Contains(t, tables.ClockSources, "internal")
	assert.Contains(t, tables.FilterPresets, "voice-hpf")
}
