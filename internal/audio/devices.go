package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// ErrNoInputDevice is returned when device selection finds nothing
// capable of capture. Callers treat it as fatal at startup.
var ErrNoInputDevice = errors.New("audio: no input-capable device found")

// Initialize prepares the portaudio host layer. Callers pair it with
// Terminate around the lifetime of all streams.
func Initialize() error {
	return portaudio.Initialize()
}

func Terminate() error {
	return portaudio.Terminate()
}

// Device describes one host audio endpoint.
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64

	info *portaudio.DeviceInfo
}

func wrapDevice(info *portaudio.DeviceInfo) Device {
	return Device{
		Index:             info.Index,
		Name:              info.Name,
		MaxInputChannels:  info.MaxInputChannels,
		MaxOutputChannels: info.MaxOutputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
		info:              info,
	}
}

// List enumerates every device the host reports, in host order.
func List() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate audio devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, wrapDevice(info))
	}
	return devices, nil
}

// SelectInput resolves the capture device. An index of -1 picks the
// first device reporting at least one input channel; if none qualifies
// the result is ErrNoInputDevice.
func SelectInput(index int) (Device, error) {
	devices, err := List()
	if err != nil {
		return Device{}, err
	}
	if index < 0 {
		for _, d := range devices {
			if d.MaxInputChannels > 0 {
				return d, nil
			}
		}
		return Device{}, ErrNoInputDevice
	}
	if index >= len(devices) {
		return Device{}, fmt.Errorf("audio: input device index %d out of range (%d devices)", index, len(devices))
	}
	if devices[index].MaxInputChannels == 0 {
		return Device{}, fmt.Errorf("audio: device %d (%s) has no input channels", index, devices[index].Name)
	}
	return devices[index], nil
}

// SelectOutput resolves the playback device. An index of -1 prefers
// the host default output, falling back to the first device with
// output channels.
func SelectOutput(index int) (Device, error) {
	if index < 0 {
		if info, err := portaudio.DefaultOutputDevice(); err == nil {
			return wrapDevice(info), nil
		}
		devices, err := List()
		if err != nil {
			return Device{}, err
		}
		for _, d := range devices {
			if d.MaxOutputChannels > 0 {
				return d, nil
			}
		}
		return Device{}, errors.New("audio: no output-capable device found")
	}
	devices, err := List()
	if err != nil {
		return Device{}, err
	}
	if index >= len(devices) {
		return Device{}, fmt.Errorf("audio: output device index %d out of range (%d devices)", index, len(devices))
	}
	if devices[index].MaxOutputChannels == 0 {
		return Device{}, fmt.Errorf("audio: device %d (%s) has no output channels", index, devices[index].Name)
	}
	return devices[index], nil
}

// FormatDevices writes a human-readable device table, one line per
// device, for the -list-devices flag.
func FormatDevices(w io.Writer) error {
	devices, err := List()
	if err != nil {
		return err
	}
	for _, d := range devices {
		fmt.Fprintf(w, "%3d: %s (in=%d out=%d rate=%.0f)\n",
			d.Index, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return nil
}
