// Package buffer implements the engine's audio block type: a
// reference-counted, fixed-shape multichannel PCM block, and the
// fixed-capacity pool that hands blocks out without allocating on the
// real-time path.
//
// Purpose: own a block of multichannel PCM (planar or interleaved) with
// sample format, rate, frame count, and channel layout, exactly as much
// metadata as node boundaries need to convert between shapes and nothing
// more. Every AudioBuffer in circulation came from a Pool; none are heap
// allocated by the hot path.
package buffer

import "fmt"

// SampleFormat identifies the on-the-wire representation of one sample.
type SampleFormat int

const (
	FormatInvalid SampleFormat = iota
	FormatS8
	FormatU8
	FormatS16
	FormatS32
	FormatF32
	FormatF64
)

// BytesPerSample returns the size in bytes of one sample in this format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS8, FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS32, FormatF32:
		return 4
	case FormatF64:
		return 8
	default:
		return 0
	}
}

func (f SampleFormat) String() string {
	switch f {
	case FormatS8:
		return "s8"
	case FormatU8:
		return "u8"
	case FormatS16:
		return "s16"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "f32"
	case FormatF64:
		return "f64"
	default:
		return "invalid"
	}
}

// ChannelRole names what a channel carries, used for layout compatibility
// checks at node boundaries (spec 3: "ordered set of channel roles").
type ChannelRole int

const (
	RoleUnspecified ChannelRole = iota
	RoleFrontLeft
	RoleFrontRight
	RoleFrontCenter
	RoleLFE
	RoleSideLeft
	RoleSideRight
)

// Layout is an ordered set of channel roles. Two layouts are compatible for
// a direct (non-adapting) connection only if they're equal.
type Layout []ChannelRole

func (l Layout) Channels() int { return len(l) }

func (l Layout) Equal(o Layout) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if l[i] != o[i] {
			return false
		}
	}
	return true
}

func Mono() Layout   { return Layout{RoleFrontCenter} }
func Stereo() Layout { return Layout{RoleFrontLeft, RoleFrontRight} }

// Shape fully describes a block's geometry: everything a Pool needs to
// produce structurally identical buffers, and everything a node boundary
// needs to decide whether an adapter is required.
type Shape struct {
	Frames     int
	SampleRate int
	Format     SampleFormat
	Layout     Layout
	Planar     bool
}

func (s Shape) Validate() error {
	if s.Frames <= 0 {
		return fmt.Errorf("buffer shape: frames must be > 0, got %d", s.Frames)
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("buffer shape: sample rate must be > 0 Hz, got %d", s.SampleRate)
	}
	if s.Format.BytesPerSample() == 0 {
		return fmt.Errorf("buffer shape: invalid sample format %v", s.Format)
	}
	if s.Layout.Channels() < 1 {
		return fmt.Errorf("buffer shape: layout must have at least one channel")
	}
	return nil
}

// Equal reports whether two shapes describe structurally identical blocks.
func (s Shape) Equal(o Shape) bool {
	return s.Frames == o.Frames && s.SampleRate == o.SampleRate &&
		s.Format == o.Format && s.Planar == o.Planar && s.Layout.Equal(o.Layout)
}

func (s Shape) bytesPerPlane() int {
	if s.Planar {
		return s.Frames * s.Format.BytesPerSample()
	}
	return s.Frames * s.Layout.Channels() * s.Format.BytesPerSample()
}

func (s Shape) planeCount() int {
	if s.Planar {
		return s.Layout.Channels()
	}
	return 1
}
