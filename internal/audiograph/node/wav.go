package node

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/oscmex/engine/internal/audiograph/buffer"
)

// Minimal PCM WAV container reader/writer, scoped to format transcoding
// required to adapt node boundaries; no retrieved example repo carries a
// WAV/RIFF library, and the container is small enough that hand-rolling
// it with encoding/binary is the pragmatic choice rather than reaching
// for an unrelated dependency (see DESIGN.md).

type wavReader struct {
	r          io.Reader
	sampleRate int
	channels   int
	bitsPerSample int
	bytesLeft  uint32
}

func openWavReader(r io.Reader) (*wavReader, error) {
	var riffHdr [12]byte
	if _, err := io.ReadFull(r, riffHdr[:]); err != nil {
		return nil, fmt.Errorf("wav: read RIFF header: %w", err)
	}
	if string(riffHdr[0:4]) != "RIFF" || string(riffHdr[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: not a RIFF/WAVE file")
	}

	wr := &wavReader{r: r}
	for {
		var chunkHdr [8]byte
		if _, err := io.ReadFull(r, chunkHdr[:]); err != nil {
			return nil, fmt.Errorf("wav: read chunk header: %w", err)
		}
		id := string(chunkHdr[0:4])
		size := binary.LittleEndian.Uint32(chunkHdr[4:8])

		switch id {
		case "fmt ":
			var fmtBody [16]byte
			if _, err := io.ReadFull(r, fmtBody[:]); err != nil {
				return nil, err
			}
			wr.channels = int(binary.LittleEndian.Uint16(fmtBody[2:4]))
			wr.sampleRate = int(binary.LittleEndian.Uint32(fmtBody[4:8]))
			wr.bitsPerSample = int(binary.LittleEndian.Uint16(fmtBody[14:16]))
			if size > 16 {
				if _, err := io.CopyN(io.Discard, r, int64(size-16)); err != nil {
					return nil, err
				}
			}
		case "data":
			wr.bytesLeft = size
			return wr, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, err
			}
		}
	}
}

// ReadBlock fills b (already sized to the engine's negotiated shape) from
// the data chunk, returning io.EOF once the data chunk is exhausted.
func (wr *wavReader) ReadBlock(b *buffer.Buffer) error {
	shape := b.Shape()
	bps := shape.Format.BytesPerSample()
	plane := b.Planes()[0]
	want := uint32(shape.Frames * shape.Layout.Channels() * bps)

	n := want
	if wr.bytesLeft < n {
		n = wr.bytesLeft
	}
	if n == 0 {
		return io.EOF
	}
	read, err := io.ReadFull(wr.r, plane[:n])
	wr.bytesLeft -= uint32(read)
	for i := uint32(read); i < uint32(len(plane)); i++ {
		plane[i] = 0 // zero-pad the tail block
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	return nil
}

type wavWriter struct {
	w          io.WriteSeeker
	sampleRate int
	channels   int
	bitsPerSample int
	dataBytes  uint32
}

func createWavWriter(w io.WriteSeeker, sampleRate, channels, bitsPerSample int) (*wavWriter, error) {
	ww := &wavWriter{w: w, sampleRate: sampleRate, channels: channels, bitsPerSample: bitsPerSample}
	if err := ww.writeHeader(); err != nil {
		return nil, err
	}
	return ww, nil
}

func (ww *wavWriter) writeHeader() error {
	byteRate := ww.sampleRate * ww.channels * ww.bitsPerSample / 8
	blockAlign := ww.channels * ww.bitsPerSample / 8

	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+ww.dataBytes)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(ww.channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(ww.sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(ww.bitsPerSample))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], ww.dataBytes)

	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := ww.w.Write(hdr)
	return err
}

func (ww *wavWriter) WriteBlock(b *buffer.Buffer) error {
	plane := b.Planes()[0]
	if _, err := ww.w.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := ww.w.Write(plane); err != nil {
		return err
	}
	ww.dataBytes += uint32(len(plane))
	return nil
}

func (ww *wavWriter) Close() error {
	return ww.writeHeader()
}
