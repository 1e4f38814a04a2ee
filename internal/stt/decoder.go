package stt

import "github.com/murmurlabs/murmur-core/internal/audio"

// Result is what one frame of audio produced. Partial results carry
// the decoder's best guess so far; a final result closes the utterance.
type Result struct {
	Text  string
	Final bool
}

// Decoder consumes successive PCM frames and yields partial and final
// decoding results. After a final result the decoder starts a fresh
// utterance. Implementations are not safe for concurrent use; the
// capture loop is the sole caller.
type Decoder interface {
	Accept(frame audio.Frame) (Result, error)
	Reset()
	Close() error
}

// Utterance is a completed command as returned by the capture loop.
// SessionEnd is set when the text exactly matched a stop phrase.
type Utterance struct {
	Text       string
	SessionEnd bool
}
