package audio

import (
	"sync/atomic"
	"time"
)

// FrameQueue is the bounded handoff between the portaudio callback and
// whichever consumer currently owns the input stream. Push never
// blocks: when the queue is full the oldest frame is discarded so the
// freshest audio survives. The capacity is fixed at construction.
type FrameQueue struct {
	frames  chan Frame
	dropped atomic.Uint64
}

func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameQueue{frames: make(chan Frame, capacity)}
}

// Push enqueues a frame without ever blocking the caller. It returns
// false when the frame itself had to be discarded, which only happens
// if a concurrent producer refills the queue between the eviction and
// the retry.
func (q *FrameQueue) Push(f Frame) bool {
	select {
	case q.frames <- f:
		return true
	default:
	}

	// Queue full: evict the oldest frame, then retry once.
	select {
	case <-q.frames:
		q.dropped.Add(1)
	default:
	}
	select {
	case q.frames <- f:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop waits up to timeout for a frame. The second return value is
// false when the queue stayed empty for the whole window. A timeout of
// zero or less polls without waiting.
func (q *FrameQueue) Pop(timeout time.Duration) (Frame, bool) {
	if timeout <= 0 {
		select {
		case f := <-q.frames:
			return f, true
		default:
			return nil, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-q.frames:
		return f, true
	case <-timer.C:
		return nil, false
	}
}

// Flush discards everything currently queued and reports how many
// frames were thrown away. Consumers call it when they take over the
// stream so they start from live audio rather than stale backlog.
func (q *FrameQueue) Flush() int {
	n := 0
	for {
		select {
		case <-q.frames:
			n++
		default:
			return n
		}
	}
}

// Len reports the number of frames currently buffered.
func (q *FrameQueue) Len() int {
	return len(q.frames)
}

// Cap reports the fixed capacity chosen at construction.
func (q *FrameQueue) Cap() int {
	return cap(q.frames)
}

// Dropped reports the total number of frames discarded since the queue
// was created, whether by eviction or by a failed push.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}
