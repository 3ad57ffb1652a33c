package node

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/oscmex/engine/internal/audiograph/buffer"
)

// Filter is one DSP stage in a FilterChain. Stages declare deterministic
// latency in samples so the chain can sum them (spec 4.4.5).
type Filter interface {
	Name() string
	LatencySamples() int
	// Process transforms src into dst in place across all channels; both
	// share shape (format/layout adaptation is a distinct stage, not a
	// filter's job).
	Process(dst, src *buffer.Buffer)
	// SetParam stages a parameter update to apply at the next block
	// boundary (spec 4.4.5: "double-buffered").
	SetParam(path string, value float64) bool
}

// paramUpdate is a pending write to a filter parameter, queued by
// UpdateParameter and applied at the next block boundary by the RT
// thread's Process call — the single-writer/multi-reader scheme spec 4.5
// requires for control-plane writes that affect the graph.
type paramUpdate struct {
	filterIdx int
	path      string
	value     float64
}

// FilterChain runs a configured pipeline of parameterized filters. Updates
// from the control plane are queued into a staging slice and swapped in
// atomically at the next Process call, never applied mid-block (spec
// 4.4.5).
type FilterChain struct {
	header

	stages []Filter
	pool   *buffer.Pool

	staged   []paramUpdate
	stagedMu sync.Mutex

	input *buffer.Buffer
	out   *buffer.Buffer
}

func NewFilterChain(name string, stages []Filter, pool *buffer.Pool) *FilterChain {
	return &FilterChain{
		header: header{
			name: name, kind: "filter_chain", state: StateConfigured,
			inputs:  []Port{{Name: "in", Shape: pool.Shape()}},
			outputs: []Port{{Name: "out", Shape: pool.Shape()}},
			logger:  log.Default().With("node", name),
		},
		stages: stages, pool: pool,
	}
}

// TotalLatencySamples sums every stage's declared latency (spec 4.4.5:
// "the chain sums them and exposes a single latency value").
func (n *FilterChain) TotalLatencySamples() int {
	total := 0
	for _, s := range n.stages {
		total += s.LatencySamples()
	}
	return total
}

// UpdateParameter is thread-safe and may be called from the control
// thread concurrently with Process running on the RT thread; it stages
// the write for application at the next block boundary.
func (n *FilterChain) UpdateParameter(path string, value float64) {
	for i := range n.stages {
		n.stagedMu.Lock()
		n.staged = append(n.staged, paramUpdate{filterIdx: i, path: path, value: value})
		n.stagedMu.Unlock()
	}
}

func (n *FilterChain) Start() error { n.state = StateRunning; return nil }
func (n *FilterChain) Stop() error  { n.state = StateStopped; return nil }

func (n *FilterChain) SetInput(port int, buf *buffer.Buffer) error {
	n.input = buf
	return nil
}

func (n *FilterChain) applyStagedParams() {
	n.stagedMu.Lock()
	pending := n.staged
	n.staged = nil
	n.stagedMu.Unlock()

	for _, u := range pending {
		if u.filterIdx < len(n.stages) {
			n.stages[u.filterIdx].SetParam(u.path, u.value)
		}
	}
}

func (n *FilterChain) Process() error {
	n.applyStagedParams()

	if n.input == nil {
		return ErrTransient
	}

	out, ok := n.pool.Acquire()
	if !ok {
		n.input.Release()
		n.input = nil
		return ErrTransient
	}

	cur := n.input
	for i, stage := range n.stages {
		var dst *buffer.Buffer
		if i == len(n.stages)-1 {
			dst = out
		} else {
			var acquired bool
			dst, acquired = n.pool.Acquire()
			if !acquired {
				cur.Release()
				out.Release()
				n.input = nil
				return ErrTransient
			}
		}
		stage.Process(dst, cur)
		if cur != n.input {
			cur.Release()
		}
		cur = dst
	}

	if len(n.stages) == 0 {
		_ = out.CopyFrom(cur)
	}

	n.input.Release()
	n.input = nil
	n.out = out
	return nil
}

func (n *FilterChain) GetOutput(int) (*buffer.Buffer, error) {
	if n.out == nil {
		return nil, ErrTransient
	}
	b := n.out
	n.out = nil
	return b, nil
}
