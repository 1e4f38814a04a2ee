package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/protocol"
)

// lenSynth maps each sentence to silence of len(text) samples, so the
// output recorder can identify utterances by length.
type lenSynth struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *lenSynth) Synthesize(ctx context.Context, text string) ([]int16, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return make([]int16, len(text)), nil
}

func (s *lenSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingOutput struct {
	mu     sync.Mutex
	played []int
	delay  time.Duration
	errs   []error
}

func (o *recordingOutput) Play(pcm []int16) error {
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played = append(o.played, len(pcm))
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		return err
	}
	return nil
}

func (o *recordingOutput) snapshot() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.played...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpeakerPlaysInOrder(t *testing.T) {
	out := &recordingOutput{}
	sp := NewSpeaker(context.Background(), &lenSynth{}, out, testLogger())
	sp.Start()
	defer sp.Close()

	for _, text := range []string{"one", "three", "seven!!"} {
		if err := sp.Enqueue(context.Background(), text); err != nil {
			t.Fatalf("enqueue %q: %v", text, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sp.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	got := out.snapshot()
	want := []int{3, 5, 7}
	if len(got) != len(want) {
		t.Fatalf("expected %d utterances, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("utterance %d: expected length %d, got %d (order broken?)", i, want[i], got[i])
		}
	}
}

func TestDrainWaitsForPlayback(t *testing.T) {
	out := &recordingOutput{delay: 20 * time.Millisecond}
	sp := NewSpeaker(context.Background(), &lenSynth{}, out, testLogger())
	sp.Start()
	defer sp.Close()

	for i := 0; i < 3; i++ {
		if err := sp.Enqueue(context.Background(), "hello"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sp.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := len(out.snapshot()); got != 3 {
		t.Fatalf("drain returned before playback finished: %d of 3 played", got)
	}
	if sp.Pending() != 0 {
		t.Fatalf("pending should be zero after drain, got %d", sp.Pending())
	}
}

func TestDrainHonorsContext(t *testing.T) {
	out := &recordingOutput{delay: 500 * time.Millisecond}
	sp := NewSpeaker(context.Background(), &lenSynth{}, out, testLogger())
	sp.Start()
	defer sp.Close()

	if err := sp.Enqueue(context.Background(), "slow sentence"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sp.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestEnqueueSurfacesSynthesisError(t *testing.T) {
	synth := &lenSynth{err: errors.New("backend down")}
	sp := NewSpeaker(context.Background(), synth, &recordingOutput{}, testLogger())
	sp.Start()
	defer sp.Close()

	if err := sp.Enqueue(context.Background(), "hello"); err == nil {
		t.Fatal("expected synthesis error")
	}

	// A failed enqueue must not leave the barrier hanging.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sp.Drain(ctx); err != nil {
		t.Fatalf("drain after failed enqueue: %v", err)
	}
}

func TestEnqueueSkipsBlankText(t *testing.T) {
	synth := &lenSynth{}
	sp := NewSpeaker(context.Background(), synth, &recordingOutput{}, testLogger())
	sp.Start()
	defer sp.Close()

	if err := sp.Enqueue(context.Background(), "   "); err != nil {
		t.Fatalf("blank enqueue: %v", err)
	}
	if synth.callCount() != 0 {
		t.Fatal("blank text must not reach the synthesizer")
	}
}

func TestPlaybackErrorDoesNotStall(t *testing.T) {
	out := &recordingOutput{errs: []error{errors.New("device busy")}}
	sp := NewSpeaker(context.Background(), &lenSynth{}, out, testLogger())
	sp.Start()
	defer sp.Close()

	if err := sp.Enqueue(context.Background(), "first"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := sp.Enqueue(context.Background(), "second"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sp.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := len(out.snapshot()); got != 2 {
		t.Fatalf("expected both utterances attempted, got %d", got)
	}
}

func TestDrainBarrierUnderInterleaving(t *testing.T) {
	out := &recordingOutput{delay: time.Millisecond}
	sp := NewSpeaker(context.Background(), &lenSynth{}, out, testLogger())
	sp.Start()
	defer sp.Close()

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := sp.Enqueue(context.Background(), "overlapping sentence"); err != nil {
					t.Errorf("enqueue: %v", err)
				}
				time.Sleep(time.Duration(i%3) * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sp.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := len(out.snapshot()); got != 20 {
		t.Fatalf("expected 20 utterances played at the barrier, got %d", got)
	}
}

type publishRecorder struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *publishRecorder) PublishJSON(subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *publishRecorder) published() ([]string, []any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...), append([]any(nil), p.payloads...)
}

func TestSpeakerPublishesPlayedEvents(t *testing.T) {
	pub := &publishRecorder{}
	sp := NewSpeaker(context.Background(), &lenSynth{}, &recordingOutput{}, testLogger())
	sp.SetPublisher(pub)
	sp.Start()
	defer sp.Close()

	if err := sp.Enqueue(context.Background(), "hello"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sp.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	subjects, payloads := pub.published()
	if len(subjects) != 1 || subjects[0] != protocol.SubjectSpeechPlayed {
		t.Fatalf("unexpected subjects %v", subjects)
	}
	evt, ok := payloads[0].(protocol.SpeechPlayed)
	if !ok {
		t.Fatalf("payload has type %T", payloads[0])
	}
	if evt.Text != "hello" || evt.Samples != 5 {
		t.Fatalf("unexpected played event %+v", evt)
	}
}

func TestCloseUnblocksIdleWorker(t *testing.T) {
	sp := NewSpeaker(context.Background(), &lenSynth{}, &recordingOutput{}, testLogger())
	sp.Start()

	done := make(chan struct{})
	go func() {
		sp.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not return with an idle worker")
	}
}
