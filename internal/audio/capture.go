package audio

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// InputStream owns the single microphone stream shared by the wake
// gate and the capture loop. The portaudio callback copies each buffer
// into the queue and never blocks; host-reported overflows are tallied
// for the gate to collect.
type InputStream struct {
	stream    *portaudio.Stream
	queue     *FrameQueue
	device    Device
	overflows atomic.Uint64
	log       *slog.Logger
}

// OpenInput resolves the configured device and opens a mono int16
// stream feeding queue. The stream is opened but not started.
func OpenInput(cfg config.AudioConfig, queue *FrameQueue, log *slog.Logger) (*InputStream, error) {
	device, err := SelectInput(cfg.InputDevice)
	if err != nil {
		return nil, err
	}

	s := &InputStream{
		queue:  queue,
		device: device,
		log:    log,
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device.info,
			Channels: 1,
			Latency:  time.Duration(cfg.LatencyMS) * time.Millisecond,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FrameLength,
	}

	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		return nil, fmt.Errorf("open input stream on %q: %w", device.Name, err)
	}
	s.stream = stream

	log.Info("input stream ready",
		slog.String("component", "audio"),
		slog.Int("device", device.Index),
		slog.String("name", device.Name),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("frame_length", cfg.FrameLength))

	return s, nil
}

// callback runs on the portaudio thread and must not block. The only
// work here is the copy, the non-blocking push, and the overflow tally.
func (s *InputStream) callback(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	if flags&portaudio.InputOverflow != 0 {
		s.overflows.Add(1)
	}
	frame := make(Frame, len(in))
	copy(frame, in)
	s.queue.Push(frame)
}

func (s *InputStream) Start() error {
	return s.stream.Start()
}

func (s *InputStream) Stop() error {
	return s.stream.Stop()
}

func (s *InputStream) Close() error {
	return s.stream.Close()
}

// Device reports the device the stream was opened on.
func (s *InputStream) Device() Device {
	return s.device
}

// Queue returns the frame queue the stream feeds.
func (s *InputStream) Queue() *FrameQueue {
	return s.queue
}

// TakeOverflows returns the overflow count accumulated since the last
// call and resets it. The wake gate owns the sliding-window bookkeeping.
func (s *InputStream) TakeOverflows() uint64 {
	return s.overflows.Swap(0)
}
