package audio

import "encoding/binary"

// Frame is one block of mono PCM samples pulled from the input stream.
// Frames are copied out of the portaudio callback buffer before they
// enter the queue, so holders may keep them indefinitely.
type Frame []int16

// Bytes renders the frame as little-endian 16-bit PCM, the layout the
// speech decoders and the wire protocol expect.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f)*2)
	for i, s := range f {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FrameFromBytes parses little-endian 16-bit PCM. A trailing odd byte
// is ignored.
func FrameFromBytes(b []byte) Frame {
	f := make(Frame, len(b)/2)
	for i := range f {
		f[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return f
}

// Clone returns an independent copy of the frame.
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	copy(out, f)
	return out
}
