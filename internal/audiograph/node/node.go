// Package node implements the Audio Node variants of the processing graph:
// hardware source/sink, file source/sink, and the filter chain (spec 4.4).
// Grounded on src/audio.go (hardware endpoints) and src/tq.go /
// src/dlq.go (background worker + bounded queue shape for file nodes),
// reworked from direwolf's C-struct-and-function-pointer dispatch onto a
// plain Go interface — which is exactly what spec 9's "virtual-style
// dispatch via a table" collapses to once the callback functions that
// table held are just interface methods.
package node

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/oscmex/engine/internal/audiograph/buffer"
)

// State is a node's processing state (spec 3).
type State int

const (
	StateUninit State = iota
	StateConfigured
	StateRunning
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Port describes one input or output port's expected shape.
type Port struct {
	Name  string
	Shape buffer.Shape
}

// ErrTransient marks a per-tick failure that should be dropped and
// counted, not escalated (spec 4.4.6).
var ErrTransient = errors.New("node: transient error")

// ErrFatal marks a failure that must move the node to StateError and
// open-circuit downstream (spec 4.4.6).
var ErrFatal = errors.New("node: fatal error")

// ErrEndOfStream is returned by a FileSource's Process and GetOutput once
// it has no more data (spec 4.4.3). Graph.Tick does not forward it: the
// nodes fed by that source simply receive no input from it.
var ErrEndOfStream = errors.New("node: end of stream")

// Node is the common contract every variant implements (spec 4.4).
// Re-entrant per tick, but never called concurrently for the same tick by
// more than one goroutine.
type Node interface {
	Name() string
	Kind() string

	InputPorts() []Port
	OutputPorts() []Port
	State() State

	Start() error
	Stop() error

	// SetInput is the only inbound data call; it moves ownership of buf to
	// the node, which must Release it once consumed.
	SetInput(port int, buf *buffer.Buffer) error

	// Process runs the node's work for the current tick. May block briefly
	// (file nodes); constant-time for filters and hardware endpoints.
	Process() error

	// GetOutput returns this tick's output buffer for the given port,
	// transferring ownership to the caller.
	GetOutput(port int) (*buffer.Buffer, error)
}

// header is embedded by every variant; it is the "value-type header"
// spec 9 calls for so port metadata never requires a virtual call.
type header struct {
	name    string
	kind    string
	inputs  []Port
	outputs []Port
	state   State
	logger  *log.Logger
}

func (h *header) Name() string        { return h.name }
func (h *header) Kind() string        { return h.kind }
func (h *header) InputPorts() []Port  { return h.inputs }
func (h *header) OutputPorts() []Port { return h.outputs }
func (h *header) State() State        { return h.state }

func (h *header) fail(err error) error {
	h.state = StateError
	if h.logger != nil {
		h.logger.Error("node entered error state", "node", h.name, "kind", h.kind, "err", err)
	}
	return fmt.Errorf("node %q: %w", h.name, err)
}
