// Package graph implements the processing graph: topological ordering of
// nodes, and the two tick drivers (callback and paced) described in spec
// 4.5. Grounded on src/multi_modem.go's fan-out-across-channels shape and
// src/tq.go's single-writer/blocking-consumer thread model, reworked from
// a fixed channel array into a general node/connection graph with a
// derived topological order.
package graph

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/oscmex/engine/internal/audiograph/buffer"
	"github.com/oscmex/engine/internal/audiograph/hwdriver"
	"github.com/oscmex/engine/internal/audiograph/node"
)

// Connection is a directed edge src_port -> dst_port between two named
// nodes (spec 3). Nodes and connections are addressed by integer handle,
// never by pointer-to-pointer back-reference (spec 9: "arena + indices").
type Connection struct {
	SrcNode, SrcPort int
	DstNode, DstPort int
}

// Graph holds nodes + connections and the derived topological order.
type Graph struct {
	logger *log.Logger

	nodes       []node.Node
	nameToIndex map[string]int
	connections []Connection
	order       []int // indices into nodes, topologically sorted

	hwSources []int // indices of HardwareSource nodes, ticked first
	hwSinks   []int // indices of HardwareSink nodes, ticked last

	// inbound[n] lists, per input port of node n, which (srcNode, srcPort)
	// feeds it.
	inbound map[int]map[int]Connection

	stopRequested bool
}

func New(logger *log.Logger) *Graph {
	if logger == nil {
		logger = log.Default()
	}
	return &Graph{
		logger:      logger,
		nameToIndex: map[string]int{},
		inbound:     map[int]map[int]Connection{},
	}
}

// AddNode registers a node and returns its handle.
func (g *Graph) AddNode(n node.Node) int {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.nameToIndex[n.Name()] = idx

	switch n.(type) {
	case *node.HardwareSource:
		g.hwSources = append(g.hwSources, idx)
	case *node.HardwareSink:
		g.hwSinks = append(g.hwSinks, idx)
	}
	return idx
}

func (g *Graph) NodeIndex(name string) (int, bool) {
	idx, ok := g.nameToIndex[name]
	return idx, ok
}

// Connect registers an edge. Each input port may have at most one incoming
// edge (spec 3).
func (g *Graph) Connect(c Connection) error {
	if g.inbound[c.DstNode] == nil {
		g.inbound[c.DstNode] = map[int]Connection{}
	}
	if _, exists := g.inbound[c.DstNode][c.DstPort]; exists {
		return fmt.Errorf("graph: input port %d of node %q already connected",
			c.DstPort, g.nodes[c.DstNode].Name())
	}
	g.inbound[c.DstNode][c.DstPort] = c
	g.connections = append(g.connections, c)
	return nil
}

// Compile computes and caches the topological execution order, detecting
// cycles (spec 4.5).
func (g *Graph) Compile() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(g.nodes))
	var order []int

	adj := make([][]int, len(g.nodes))
	for _, c := range g.connections {
		adj[c.SrcNode] = append(adj[c.SrcNode], c.DstNode)
	}

	var visit func(n int) error
	visit = func(n int) error {
		color[n] = gray
		for _, m := range adj[n] {
			switch color[m] {
			case white:
				if err := visit(m); err != nil {
					return err
				}
			case gray:
				return fmt.Errorf("graph: cycle detected involving node %q", g.nodes[m].Name())
			}
		}
		color[n] = black
		order = append(order, n)
		return nil
	}

	for i := range g.nodes {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}

	// visit appends in post-order; reverse for a valid topological order.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	g.order = order
	return nil
}

// Index returns the position of a node name in the compiled topological
// order, used by tests asserting index(a) < index(b) for every
// connection a->b (spec 8).
func (g *Graph) Index(name string) int {
	idx := g.nameToIndex[name]
	for pos, n := range g.order {
		if n == idx {
			return pos
		}
	}
	return -1
}

// Tick executes one block. doubleIdx is only meaningful when the graph has
// hardware nodes; paced-only graphs pass 0. Steps follow spec 4.5:
// advance hardware sources, run the topological order, drive hardware
// sinks, release intermediates.
func (g *Graph) Tick(doubleIdx int) error {
	var firstErr error

	for _, idx := range g.hwSources {
		src := g.nodes[idx].(*node.HardwareSource)
		if err := src.Deliver(doubleIdx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	outputs := make(map[int]map[int]*buffer.Buffer, len(g.order))

	for _, idx := range g.order {
		n := g.nodes[idx]
		_, isSource := n.(*node.HardwareSource)

		if !isSource {
			for port, conn := range g.inbound[idx] {
				srcOut := outputs[conn.SrcNode]
				if srcOut == nil {
					continue
				}
				buf := srcOut[conn.SrcPort]
				if buf == nil {
					continue
				}
				delete(srcOut, conn.SrcPort)
				if err := n.SetInput(port, buf); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}

		if sink, isSink := n.(*node.HardwareSink); isSink {
			if err := sink.WriteOut(doubleIdx); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		if !isSource {
			// HardwareSource work already happened in Deliver above; it
			// falls through here only to collect its output below.
			if err := n.Process(); err != nil && err != node.ErrEndOfStream && firstErr == nil {
				firstErr = err
			}
		}

		nodeOutputs := map[int]*buffer.Buffer{}
		for portIdx := range n.OutputPorts() {
			buf, err := n.GetOutput(portIdx)
			if err == nil && buf != nil {
				nodeOutputs[portIdx] = buf
			}
		}
		if len(nodeOutputs) > 0 {
			outputs[idx] = nodeOutputs
		}
	}

	for _, remaining := range outputs {
		for _, buf := range remaining {
			buf.Release()
		}
	}

	return firstErr
}

// RunPaced drives ticks in a sleep loop proportional to frames/rate
// seconds until RequestStop is called or isDone reports true (spec 4.5,
// "Paced mode"). It does not itself watch FileSources for end-of-stream
// or FileSinks for drain; only isDone can end the loop. rateMultiplier > 1
// runs faster than wall clock for offline batch conversion (SPEC_FULL
// 4.5.1); 0 or 1 means real time.
func (g *Graph) RunPaced(frames, sampleRate int, rateMultiplier float64, isDone func() bool) {
	if rateMultiplier <= 0 {
		rateMultiplier = 1
	}
	period := time.Duration(float64(frames)/float64(sampleRate)*1e9/rateMultiplier) * time.Nanosecond

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for !g.stopRequested {
		if isDone != nil && isDone() {
			return
		}
		if err := g.Tick(0); err != nil {
			g.logger.Warn("paced tick reported an error", "err", err)
		}
		<-ticker.C
	}
}

// RequestStop sets the stop flag observed by RunPaced; for callback mode
// the driver's Stop() is the cancellation point instead (spec 4.5).
func (g *Graph) RequestStop() { g.stopRequested = true }

// HardwareCallback is installed on the driver as the buffer-switch
// callback (spec 4.3/4.5): it must return within one block period.
func (g *Graph) HardwareCallback() hwdriver.Callback {
	return func(doubleIdx int, direct bool) {
		_ = direct
		if err := g.Tick(doubleIdx); err != nil {
			g.logger.Debug("tick reported a transient condition", "err", err)
		}
	}
}
