package node

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/oscmex/engine/internal/audiograph/buffer"
	"github.com/oscmex/engine/internal/audiograph/queue"
)

// preRollBlocks is the output queue's high-water mark (spec 4.4.3: "a
// small pre-roll, e.g. 8 blocks").
const preRollBlocks = 8

// FileSource runs a background reader thread that decodes one block at a
// time from a WAV file and pushes it onto a bounded output queue; Process
// pops exactly one block per tick (spec 4.4.3).
type FileSource struct {
	header

	pool  *buffer.Pool
	queue *queue.Queue

	path     string
	paced    bool // if false (callback mode), underflow yields silence
	wg       sync.WaitGroup
	stopCh   chan struct{}

	atEOF   bool
	pending *buffer.Buffer
}

func NewFileSource(name, path string, pool *buffer.Pool, paced bool) *FileSource {
	return &FileSource{
		header: header{
			name: name, kind: "file_source", state: StateConfigured,
			outputs: []Port{{Name: "out", Shape: pool.Shape()}},
			logger:  log.Default().With("node", name),
		},
		pool: pool, path: path, paced: paced,
		queue: queue.New(preRollBlocks),
	}
}

func (n *FileSource) Start() error {
	n.stopCh = make(chan struct{})
	n.wg.Add(1)
	go n.readLoop()
	n.state = StateRunning
	return nil
}

func (n *FileSource) readLoop() {
	defer n.wg.Done()

	f, err := os.Open(n.path)
	if err != nil {
		n.header.logger.Error("file source open failed", "node", n.name, "path", n.path, "err", err)
		n.queue.Close()
		return
	}
	defer f.Close()

	reader, err := openWavReader(f)
	if err != nil {
		n.header.logger.Error("file source decode failed", "node", n.name, "err", err)
		n.queue.Close()
		return
	}

	for {
		select {
		case <-n.stopCh:
			n.queue.Close()
			return
		default:
		}

		b, ok := n.pool.Acquire()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}

		if err := reader.ReadBlock(b); err != nil {
			b.Release()
			if err == io.EOF {
				n.queue.Close()
				return
			}
			n.header.logger.Warn("file source read error", "node", n.name, "err", err)
			n.queue.Close()
			return
		}

		if pushErr := n.queue.Push(b); pushErr != nil {
			return // queue closed under us (Stop())
		}
	}
}

func (n *FileSource) Stop() error {
	if n.stopCh != nil {
		close(n.stopCh)
	}
	n.queue.Close()
	n.wg.Wait()
	n.state = StateStopped
	return nil
}

func (n *FileSource) SetInput(int, *buffer.Buffer) error { return nil }

// Process pops one block. In paced mode it blocks until one is available
// (or the stream ends); in callback mode an empty queue yields silence and
// is flagged rather than stalling the real-time thread (spec 4.4.3).
func (n *FileSource) Process() error {
	if n.atEOF {
		return ErrEndOfStream
	}

	if n.paced {
		b, err := n.queue.Pop()
		if err != nil {
			n.atEOF = true
			return ErrEndOfStream
		}
		n.pending = b
		return nil
	}

	b, ok := n.tryPop()
	if !ok {
		n.header.logger.Warn("file source underflow", "node", n.name)
		n.pending = n.silence()
		return ErrTransient
	}
	n.pending = b
	return nil
}

func (n *FileSource) tryPop() (*buffer.Buffer, bool) {
	b, err := n.queue.TryPopTimeout(0)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (n *FileSource) silence() *buffer.Buffer {
	b, ok := n.pool.Acquire()
	if !ok {
		return nil
	}
	for _, p := range b.Planes() {
		for i := range p {
			p[i] = 0
		}
	}
	return b
}

func (n *FileSource) GetOutput(int) (*buffer.Buffer, error) {
	if n.pending == nil {
		return nil, ErrEndOfStream
	}
	b := n.pending
	n.pending = nil
	return b, nil
}
