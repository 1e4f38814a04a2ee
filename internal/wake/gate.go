package wake

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/protocol"
)

// pollInterval bounds how long the consume loop sleeps on an empty
// queue, which is also its reaction time to shutdown and re-arming.
const pollInterval = 100 * time.Millisecond

// Publisher is the slice of the bus client the gate publishes its
// lifecycle events through. A nil publisher disables publishing.
type Publisher interface {
	PublishJSON(subject string, payload any) error
}

// OverflowSource reports input overflows accumulated since the last
// call. The input stream's callback owns the raw counter; the gate
// owns the sliding-window bookkeeping built on top of it.
type OverflowSource func() uint64

// Gate consumes the frame queue while the runtime is idle and fires
// the trigger exactly once per idle period. After firing it disarms
// and leaves the queue to the capture loop until Arm is called again.
// Repeated input overflows inside the rolling window suspend detection
// until Resume clears the fault.
type Gate struct {
	cfg      config.WakeConfig
	engine   Engine
	queue    *audio.FrameQueue
	trigger  func(Detection)
	overflow OverflowSource
	pub      Publisher
	log      *slog.Logger
	clock    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	armCh  chan struct{}

	frames     atomic.Uint64
	detections atomic.Uint64
	overflows  atomic.Uint64

	mu        sync.Mutex
	armed     bool
	suspended bool
	tally     *Tally
}

func NewGate(parent context.Context, cfg config.WakeConfig, engine Engine, queue *audio.FrameQueue, trigger func(Detection), log *slog.Logger) *Gate {
	ctx, cancel := context.WithCancel(parent)
	return &Gate{
		cfg:     cfg,
		engine:  engine,
		queue:   queue,
		trigger: trigger,
		log:     log,
		clock:   time.Now,
		ctx:     ctx,
		cancel:  cancel,
		armCh:   make(chan struct{}, 1),
		armed:   true,
		tally:   NewTally(time.Duration(cfg.OverflowWindowSec) * time.Second),
	}
}

// SetOverflowSource wires the input stream's overflow counter in.
func (g *Gate) SetOverflowSource(src OverflowSource) {
	g.overflow = src
}

// SetPublisher wires the bus in for suspension lifecycle events.
func (g *Gate) SetPublisher(pub Publisher) {
	g.pub = pub
}

func (g *Gate) Start() {
	g.wg.Add(1)
	go g.run()
	g.log.Info("wake gate armed",
		slog.String("component", "wake"),
		slog.Any("keywords", g.cfg.Keywords))
}

func (g *Gate) Close() error {
	g.cancel()
	g.wg.Wait()
	return g.engine.Close()
}

func (g *Gate) run() {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}

		if !g.Armed() {
			// The capture loop owns the queue while a turn runs.
			select {
			case <-g.ctx.Done():
				return
			case <-g.armCh:
			}
			continue
		}

		frame, ok := g.queue.Pop(pollInterval)
		g.collectOverflows()
		if !ok {
			continue
		}
		if g.Suspended() {
			continue
		}

		g.frames.Add(1)
		det, fired := g.engine.Process(frame)
		if fired {
			g.fire(det)
		}
	}
}

// fire disarms the gate and hands the detection to the trigger on its
// own goroutine, keeping the consume loop clear of session work.
func (g *Gate) fire(det Detection) {
	g.mu.Lock()
	if !g.armed {
		g.mu.Unlock()
		return
	}
	g.armed = false
	g.mu.Unlock()

	g.detections.Add(1)
	g.log.Info("wake word detected",
		slog.String("component", "wake"),
		slog.String("keyword", det.Keyword),
		slog.Int("index", det.Index))

	go g.trigger(det)
}

// Arm re-enables detection after a turn completes. Stale frames are
// flushed first so the engine scores live audio rather than whatever
// queued up during playback.
func (g *Gate) Arm() {
	g.queue.Flush()
	g.engine.Reset()

	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()

	select {
	case g.armCh <- struct{}{}:
	default:
	}
}

// Resume clears a suspension, empties the overflow tally, and re-arms.
func (g *Gate) Resume() {
	g.mu.Lock()
	wasSuspended := g.suspended
	g.suspended = false
	g.tally.Reset()
	g.mu.Unlock()

	if wasSuspended {
		g.log.Info("wake detection resumed", slog.String("component", "wake"))
		g.publish(protocol.SubjectWakeResumed, protocol.WakeResumed{Timestamp: g.clock().UTC()})
	}
	g.Arm()
}

func (g *Gate) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

func (g *Gate) Suspended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suspended
}

// Frames reports how many frames the engine has scored.
func (g *Gate) Frames() uint64 { return g.frames.Load() }

// Detections reports how many times the gate has fired.
func (g *Gate) Detections() uint64 { return g.detections.Load() }

// Overflows reports the total input overflows drained from the source.
func (g *Gate) Overflows() uint64 { return g.overflows.Load() }

func (g *Gate) collectOverflows() {
	if g.overflow == nil {
		return
	}
	n := g.overflow()
	if n == 0 {
		return
	}
	g.overflows.Add(n)

	now := g.clock()
	g.mu.Lock()
	count := 0
	for i := uint64(0); i < n; i++ {
		count = g.tally.Add(now)
	}
	alreadySuspended := g.suspended
	shouldSuspend := count >= g.cfg.OverflowThreshold && !alreadySuspended
	if shouldSuspend {
		g.suspended = true
	}
	g.mu.Unlock()

	g.log.Warn("input overflow reported",
		slog.String("component", "wake"),
		slog.Uint64("overflows", n),
		slog.Int("window_count", count))

	if shouldSuspend {
		g.log.Warn("wake detection suspended after repeated input overflows",
			slog.String("component", "wake"),
			slog.Int("overflows", count),
			slog.Int("window_secs", g.cfg.OverflowWindowSec))
		g.publish(protocol.SubjectWakeSuspended, protocol.WakeSuspended{
			Overflows: count,
			WindowSec: g.cfg.OverflowWindowSec,
			Timestamp: now.UTC(),
		})
	}
}

func (g *Gate) publish(subject string, payload any) {
	if g.pub == nil {
		return
	}
	if err := g.pub.PublishJSON(subject, payload); err != nil {
		g.log.Warn("failed to publish wake event",
			slog.String("component", "wake"),
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
