package node

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/oscmex/engine/internal/audiograph/buffer"
	"github.com/oscmex/engine/internal/audiograph/queue"
)

// FileSink mirrors FileSource: SetInput pushes onto an input queue, a
// writer thread pops/encodes/writes, and Stop drains the queue before
// closing the file atomically via temp-file + rename (spec 4.4.4).
type FileSink struct {
	header

	queue *queue.Queue

	path        string
	sampleRate  int
	channels    int
	bitsPerSample int

	wg     sync.WaitGroup
	stopCh chan struct{}
	errCh  chan error
}

func NewFileSink(name, path string, shape buffer.Shape) *FileSink {
	bits := shape.Format.BytesPerSample() * 8
	return &FileSink{
		header: header{
			name: name, kind: "file_sink", state: StateConfigured,
			inputs: []Port{{Name: "in", Shape: shape}},
			logger: log.Default().With("node", name),
		},
		path:       path,
		sampleRate: shape.SampleRate,
		channels:   shape.Layout.Channels(),
		bitsPerSample: bits,
		queue:      queue.New(preRollBlocks),
		errCh:      make(chan error, 1),
	}
}

func (n *FileSink) Start() error {
	n.stopCh = make(chan struct{})
	n.wg.Add(1)
	go n.writeLoop()
	n.state = StateRunning
	return nil
}

func (n *FileSink) writeLoop() {
	defer n.wg.Done()

	tmpPath := n.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		n.fail(err)
		n.errCh <- err
		return
	}

	writer, err := createWavWriter(f, n.sampleRate, n.channels, n.bitsPerSample)
	if err != nil {
		f.Close()
		n.fail(err)
		n.errCh <- err
		return
	}

	for {
		b, err := n.queue.Pop()
		if err != nil {
			// Queue closed: drain is implicit (Pop only returns err once
			// empty+closed), write the trailer and rename atomically.
			if werr := writer.Close(); werr != nil {
				n.header.logger.Error("file sink trailer write failed", "node", n.name, "err", werr)
			}
			if cerr := f.Close(); cerr != nil {
				n.header.logger.Error("file sink close failed", "node", n.name, "err", cerr)
			}
			if rerr := os.Rename(tmpPath, n.path); rerr != nil {
				n.header.logger.Error("file sink rename failed", "node", n.name, "err", rerr)
			}
			return
		}

		werr := writer.WriteBlock(b)
		b.Release()
		if werr != nil {
			n.header.logger.Error("file sink write error", "node", n.name, "err", werr)
			n.fail(werr)
			// Drain remaining queued buffers without writing them further.
			n.drainSilently()
			f.Close()
			os.Remove(tmpPath)
			return
		}
	}
}

func (n *FileSink) drainSilently() {
	for {
		b, err := n.queue.TryPopTimeout(0)
		if err != nil {
			return
		}
		b.Release()
	}
}

func (n *FileSink) Stop() error {
	// Let the writer empty the queue first: Close releases whatever is
	// still queued without writing it.
	exited := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(exited)
	}()
drain:
	for n.queue.Len() > 0 {
		select {
		case <-exited: // writer never started or stopped on an error
			break drain
		case <-time.After(time.Millisecond):
		}
	}
	n.queue.Close()
	n.wg.Wait()
	if n.state != StateError {
		n.state = StateStopped
	}
	return nil
}

// SetInput refuses further pushes once the node is in error, propagating
// backpressure to upstream (spec 4.4.4).
func (n *FileSink) SetInput(port int, buf *buffer.Buffer) error {
	if n.state == StateError {
		buf.Release()
		return ErrFatal
	}
	if !n.queue.TryPush(buf) {
		buf.Release()
		n.header.logger.Warn("file sink backpressure, dropping block", "node", n.name)
		return ErrTransient
	}
	return nil
}

func (n *FileSink) Process() error                       { return nil }
func (n *FileSink) GetOutput(int) (*buffer.Buffer, error) { return nil, nil }
