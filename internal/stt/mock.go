package stt

import "github.com/murmurlabs/murmur-core/internal/audio"

// MockDecoder produces a canned final utterance every Every frames and
// empty partials in between. It lets the daemon run the full pipeline
// without a speech model.
type MockDecoder struct {
	Canned string
	Every  int

	seen int
}

func NewMockDecoder(canned string, every int) *MockDecoder {
	if every <= 0 {
		every = 1
	}
	return &MockDecoder{Canned: canned, Every: every}
}

func (d *MockDecoder) Accept(frame audio.Frame) (Result, error) {
	d.seen++
	if d.seen%d.Every == 0 {
		return Result{Text: d.Canned, Final: true}, nil
	}
	return Result{}, nil
}

func (d *MockDecoder) Reset() {
	d.seen = 0
}

func (d *MockDecoder) Close() error {
	return nil
}
