package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes 16-bit PCM into f. Multi-channel data is expected
// interleaved, matching what the synthesis backends produce.
func WriteWAV(f *os.File, pcm []int16, sampleRate, channels int) error {
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm))
	for i, s := range pcm {
		samples[i] = int(s)
	}
	buffer.Data = samples

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile writes pcm to path as a 16-bit WAV file.
func WriteWAVFile(path string, pcm []int16, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	if err := WriteWAV(f, pcm, sampleRate, channels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DecodeWAV decodes a 16-bit WAV stream and returns the samples along
// with the sample rate and channel count from the header.
func DecodeWAV(r io.ReadSeeker) ([]int16, int, int, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, 0, 0, fmt.Errorf("decode wav: empty buffer")
	}
	if dec.BitDepth != 16 {
		return nil, 0, 0, fmt.Errorf("decode wav: unsupported bit depth %d", dec.BitDepth)
	}

	pcm := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		pcm[i] = int16(s)
	}
	return pcm, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// ReadWAVFile decodes a 16-bit WAV file from disk.
func ReadWAVFile(path string) ([]int16, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f)
}
