package wake

import "time"

// Tally counts events inside a rolling window. Events older than the
// window are evicted before each count, so a long quiet gap empties
// the tally rather than letting stale events accumulate toward the
// threshold. Not safe for concurrent use; the gate guards it.
type Tally struct {
	window time.Duration
	events []time.Time
}

func NewTally(window time.Duration) *Tally {
	return &Tally{window: window}
}

// Add records an event at now and returns the number of events still
// inside the window, the new one included.
func (t *Tally) Add(now time.Time) int {
	t.evict(now)
	t.events = append(t.events, now)
	return len(t.events)
}

// Count reports how many recorded events fall inside the window at now.
func (t *Tally) Count(now time.Time) int {
	t.evict(now)
	return len(t.events)
}

// Reset discards all recorded events.
func (t *Tally) Reset() {
	t.events = t.events[:0]
}

func (t *Tally) evict(now time.Time) {
	keep := 0
	for _, ev := range t.events {
		if now.Sub(ev) < t.window {
			t.events[keep] = ev
			keep++
		}
	}
	t.events = t.events[:keep]
}
