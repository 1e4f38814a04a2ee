package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Player writes PCM to an output device using blocking writes. The
// blocking write path is what paces the playback queue: Play returns
// only once the host has accepted the final chunk.
type Player struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	device Device
	closed bool
}

// OpenPlayer opens and starts an output stream. deviceIndex -1 selects
// the host default output.
func OpenPlayer(deviceIndex, sampleRate, channels, frameLength int, latency time.Duration) (*Player, error) {
	device, err := SelectOutput(deviceIndex)
	if err != nil {
		return nil, err
	}

	p := &Player{
		buf:    make([]int16, frameLength*channels),
		device: device,
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device.info,
			Channels: channels,
			Latency:  latency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frameLength,
	}

	stream, err := portaudio.OpenStream(params, &p.buf)
	if err != nil {
		return nil, fmt.Errorf("open output stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	p.stream = stream

	return p, nil
}

// Play writes pcm to the device, chunked to the stream buffer size.
// The tail chunk is zero-padded to a full buffer. Output underflow is
// ignored; it only means the host briefly ran dry between chunks.
func (p *Player) Play(pcm []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("audio: player closed")
	}

	for off := 0; off < len(pcm); off += len(p.buf) {
		n := copy(p.buf, pcm[off:])
		for i := n; i < len(p.buf); i++ {
			p.buf[i] = 0
		}
		if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("write audio: %w", err)
		}
	}
	return nil
}

// Device reports the device the player was opened on.
func (p *Player) Device() Device {
	return p.device
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.stream.Stop(); err != nil {
		p.stream.Close()
		return err
	}
	return p.stream.Close()
}
