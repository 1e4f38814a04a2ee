package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur-core/internal/protocol"
)

// speakerQueueDepth bounds how many synthesized utterances can wait
// for the output device before Enqueue applies backpressure.
const speakerQueueDepth = 64

// Output consumes synthesized PCM. audio.Player satisfies it; tests
// substitute recorders.
type Output interface {
	Play(pcm []int16) error
}

// Publisher posts playback events to the message bus. A nil publisher
// disables publishing.
type Publisher interface {
	PublishJSON(subject string, payload any) error
}

type speakerItem struct {
	pcm  []int16
	text string
}

// Speaker is the synthesis playback queue. Enqueue synthesizes on the
// caller's goroutine and hands finished PCM to a single playback
// worker, so utterances play strictly in enqueue order. Drain is the
// barrier a turn uses to wait until everything it said has been heard.
type Speaker struct {
	synth Synthesizer
	out   Output
	log   *slog.Logger
	pub   Publisher

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan *speakerItem
	wg     sync.WaitGroup
	closed atomic.Bool

	mu      sync.Mutex
	pending int
	zeroCh  chan struct{}
}

func NewSpeaker(parent context.Context, synth Synthesizer, out Output, log *slog.Logger) *Speaker {
	ctx, cancel := context.WithCancel(parent)
	return &Speaker{
		synth:  synth,
		out:    out,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan *speakerItem, speakerQueueDepth),
	}
}

// SetPublisher attaches an optional bus publisher for played events.
// Call it before Start.
func (s *Speaker) SetPublisher(pub Publisher) {
	s.pub = pub
}

func (s *Speaker) Start() {
	s.wg.Add(1)
	go s.playbackLoop()
}

// Enqueue synthesizes text and queues the audio for playback. Blank
// text is skipped. A synthesis failure is returned to the caller and
// leaves the queue untouched.
func (s *Speaker) Enqueue(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.closed.Load() {
		return errors.New("tts: speaker closed")
	}

	pcm, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	s.addPending()
	select {
	case s.queue <- &speakerItem{pcm: pcm, text: text}:
		return nil
	case <-ctx.Done():
		s.taskDone()
		return ctx.Err()
	case <-s.ctx.Done():
		s.taskDone()
		return errors.New("tts: speaker closed")
	}
}

// Drain blocks until every previously enqueued utterance has finished
// playing, or ctx expires.
func (s *Speaker) Drain(ctx context.Context) error {
	s.mu.Lock()
	for s.pending > 0 {
		waitCh := s.zeroCh
		s.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	s.mu.Unlock()
	return nil
}

// Close lets queued audio finish, stops the worker via the sentinel,
// and waits for it to exit.
func (s *Speaker) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	select {
	case s.queue <- nil:
	case <-s.ctx.Done():
	}
	s.wg.Wait()
	s.cancel()
	return nil
}

// Pending reports how many utterances are synthesized but not yet
// fully played.
func (s *Speaker) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Speaker) playbackLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case it := <-s.queue:
			if it == nil {
				// Shutdown sentinel. Everything enqueued before it has
				// already been played, FIFO order guarantees that.
				return
			}
			if err := s.out.Play(it.pcm); err != nil {
				s.log.Warn("playback failed",
					slog.String("component", "tts"),
					slog.String("text", it.text),
					slog.String("error", err.Error()))
			} else if s.pub != nil {
				if err := s.pub.PublishJSON(protocol.SubjectSpeechPlayed, protocol.SpeechPlayed{
					Text:      it.text,
					Samples:   len(it.pcm),
					Timestamp: time.Now().UTC(),
				}); err != nil {
					s.log.Warn("failed to publish played event",
						slog.String("component", "tts"),
						slog.String("error", err.Error()))
				}
			}
			s.taskDone()
		}
	}
}

func (s *Speaker) addPending() {
	s.mu.Lock()
	if s.pending == 0 {
		s.zeroCh = make(chan struct{})
	}
	s.pending++
	s.mu.Unlock()
}

func (s *Speaker) taskDone() {
	s.mu.Lock()
	s.pending--
	if s.pending == 0 && s.zeroCh != nil {
		close(s.zeroCh)
	}
	s.mu.Unlock()
}
