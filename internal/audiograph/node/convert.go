package node

import (
	"encoding/binary"
	"math"

	"github.com/oscmex/engine/internal/audiograph/buffer"
)

// writeFloat32Plane converts one driver-native float32 channel (the
// portaudio convention) into plane ci of an interleaved or planar buffer
// of the given shape, performing the sample-format adaptation spec 4.3
// assigns to the hardware adapter ("inline in the adapter using
// pre-allocated scratch buffers" — here the scratch is the destination
// plane itself, written sample by sample with no extra allocation).
func writeFloat32Plane(planes [][]byte, ci int, src []float32, shape buffer.Shape, bps int) {
	channels := shape.Layout.Channels()
	for f := 0; f < shape.Frames && f < len(src); f++ {
		var plane []byte
		var offset int
		if shape.Planar {
			plane = planes[ci]
			offset = f * bps
		} else {
			plane = planes[0]
			offset = (f*channels + ci) * bps
		}
		encodeSample(plane[offset:offset+bps], shape.Format, src[f])
	}
}

// readFloat32Plane is the inverse: plane ci of shape becomes one
// driver-native float32 channel written into dst.
func readFloat32Plane(dst []float32, planes [][]byte, ci int, shape buffer.Shape, bps int) {
	channels := shape.Layout.Channels()
	for f := 0; f < shape.Frames && f < len(dst); f++ {
		var plane []byte
		var offset int
		if shape.Planar {
			plane = planes[ci]
			offset = f * bps
		} else {
			plane = planes[0]
			offset = (f*channels + ci) * bps
		}
		dst[f] = decodeSample(plane[offset:offset+bps], shape.Format)
	}
}

func encodeSample(dst []byte, format buffer.SampleFormat, v float32) {
	switch format {
	case buffer.FormatF32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
	case buffer.FormatS16:
		iv := int16(clamp(float64(v)) * 32767)
		binary.LittleEndian.PutUint16(dst, uint16(iv))
	case buffer.FormatS32:
		iv := int32(clamp(float64(v)) * 2147483647)
		binary.LittleEndian.PutUint32(dst, uint32(iv))
	case buffer.FormatU8:
		iv := uint8((clamp(float64(v))*127)+128)
		dst[0] = iv
	default:
		// Other formats are not encoded: the destination bytes are left
		// as they are. Nothing validates the format beforehand; the
		// engine builds every pool as F32.
	}
}

func decodeSample(src []byte, format buffer.SampleFormat) float32 {
	switch format {
	case buffer.FormatF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(src))
	case buffer.FormatS16:
		iv := int16(binary.LittleEndian.Uint16(src))
		return float32(iv) / 32768
	case buffer.FormatS32:
		iv := int32(binary.LittleEndian.Uint32(src))
		return float32(iv) / 2147483648
	case buffer.FormatU8:
		return (float32(src[0]) - 128) / 128
	default:
		return 0
	}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
