package tts

import "context"

type mockSynth struct{}

// NewMockSynth returns a synthesizer producing silence sized to the
// text, roughly 5ms per character at 24kHz. It keeps playback timing
// realistic without any audio backend.
func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Synthesize(ctx context.Context, text string) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return make([]int16, 120*len(text)), nil
}
