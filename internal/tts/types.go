package tts

import (
	"context"
	"fmt"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// Synthesizer renders one sentence of text to 16-bit PCM at the
// backend's configured sample rate. Sentences are short, so the whole
// utterance is returned at once rather than streamed.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]int16, error)
}

// New builds the backend selected by cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(), nil
	case "google":
		return NewGoogleSynth(cfg), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
