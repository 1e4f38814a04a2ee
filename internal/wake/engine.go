package wake

import "github.com/murmurlabs/murmur-core/internal/audio"

// Detection identifies which configured keyword fired.
type Detection struct {
	Keyword string
	Index   int
}

// Engine scores successive audio frames for wake keywords. Process
// reports a detection on the frame that completes a keyword; the gate
// stops feeding it until the next idle period. Implementations are not
// safe for concurrent use; the gate's consume loop is the sole caller.
type Engine interface {
	Process(frame audio.Frame) (Detection, bool)
	Reset()
	Close() error
}
