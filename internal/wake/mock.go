package wake

import "github.com/murmurlabs/murmur-core/internal/audio"

// MockEngine fires after a fixed number of processed frames and then
// repeats on the same cadence after each reset. It lets the daemon and
// the tests exercise the full pipeline without a wake model.
type MockEngine struct {
	Keyword   string
	FireAfter int

	seen int
}

func NewMockEngine(keyword string, fireAfter int) *MockEngine {
	return &MockEngine{Keyword: keyword, FireAfter: fireAfter}
}

func (m *MockEngine) Process(frame audio.Frame) (Detection, bool) {
	if m.FireAfter <= 0 {
		return Detection{}, false
	}
	m.seen++
	if m.seen >= m.FireAfter {
		m.seen = 0
		return Detection{Keyword: m.Keyword}, true
	}
	return Detection{}, false
}

func (m *MockEngine) Reset() {
	m.seen = 0
}

func (m *MockEngine) Close() error {
	return nil
}
