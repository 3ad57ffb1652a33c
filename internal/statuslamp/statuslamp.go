// Package statuslamp drives one GPIO output line as a hardware fault
// indicator (SPEC_FULL 4.10.1). The Engine Facade lights it on a
// node-error or device-error status event and turns it off on any other
// event; no transient-drop rate is tracked.
//
// Grounded on src/ptt.go's GPIO keying path (one requested line, a single
// SetValue(0|1) call per logical transition), repurposed from "key the
// transmitter on transmit" to "light the lamp on fault" — same library,
// same request-a-line-then-SetValue shape, different trigger condition.
package statuslamp

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// outputLine is the slice of *gpiocdev.Line this package uses, narrowed
// to an interface so tests can substitute a fake without real hardware.
type outputLine interface {
	SetValue(value int) error
	Close() error
}

// Lamp is a single GPIO output line, opened once at Engine Facade init
// and closed at shutdown.
type Lamp struct {
	line outputLine
	lit  bool
}

// Open requests chipName's offset line as an output, initially low.
func Open(chipName string, offset int) (*Lamp, error) {
	line, err := gpiocdev.RequestLine(chipName, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("statuslamp: request %s:%d: %w", chipName, offset, err)
	}
	return &Lamp{line: line}, nil
}

// Set drives the line high (lit) or low, skipping the syscall if the
// line is already in the requested state.
func (l *Lamp) Set(lit bool) error {
	if l == nil || l.lit == lit {
		return nil
	}
	v := 0
	if lit {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("statuslamp: set value: %w", err)
	}
	l.lit = lit
	return nil
}

// Close releases the underlying GPIO line request.
func (l *Lamp) Close() error {
	if l == nil {
		return nil
	}
	return l.line.Close()
}

// newForLine builds a Lamp over an already-open line, for tests.
func newForLine(line outputLine) *Lamp { return &Lamp{line: line} }
