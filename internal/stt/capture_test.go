package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
)

type scriptStep struct {
	res Result
	err error
}

// scriptDecoder replays one step per accepted frame and then returns
// empty partials forever.
type scriptDecoder struct {
	mu      sync.Mutex
	steps   []scriptStep
	accepts int
}

func (d *scriptDecoder) Accept(audio.Frame) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accepts++
	if len(d.steps) == 0 {
		return Result{}, nil
	}
	st := d.steps[0]
	d.steps = d.steps[1:]
	return st.res, st.err
}

func (d *scriptDecoder) Reset()       {}
func (d *scriptDecoder) Close() error { return nil }

func (d *scriptDecoder) acceptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepts
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func captureConfig(timeoutMS int) config.STTConfig {
	return config.STTConfig{Mode: "mock", CaptureTimeoutMS: timeoutMS}
}

var defaultStops = []string{"goodbye", "exit", "stop"}

// runCapture starts Capture, feeds the queue from a second goroutine
// once the flush-on-entry has happened, and returns the result.
func runCapture(t *testing.T, c *Capturer, queue *audio.FrameQueue, frames int) (Utterance, error) {
	t.Helper()
	type outcome struct {
		u   Utterance
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		u, err := c.Capture(context.Background())
		ch <- outcome{u, err}
	}()
	go func() {
		time.Sleep(20 * time.Millisecond)
		for i := 0; i < frames; i++ {
			queue.Push(audio.Frame{0})
			time.Sleep(time.Millisecond)
		}
	}()
	select {
	case o := <-ch:
		return o.u, o.err
	case <-time.After(3 * time.Second):
		t.Fatal("capture did not return")
		return Utterance{}, nil
	}
}

func TestCaptureReturnsFinalUtterance(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	dec := &scriptDecoder{steps: []scriptStep{
		{res: Result{Text: "turn"}},
		{res: Result{Text: "turn on"}},
		{res: Result{Text: "turn on the lights", Final: true}},
	}}
	c := NewCapturer(captureConfig(2000), defaultStops, queue, dec, testLogger())

	var mu sync.Mutex
	var partials []string
	c.SetObserver(func(text string) {
		mu.Lock()
		partials = append(partials, text)
		mu.Unlock()
	})

	u, err := runCapture(t, c, queue, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Text != "turn on the lights" {
		t.Fatalf("unexpected utterance %q", u.Text)
	}
	if u.SessionEnd {
		t.Fatal("command must not end the session")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(partials) != 2 || partials[0] != "turn" || partials[1] != "turn on" {
		t.Fatalf("unexpected partials %v", partials)
	}
}

func TestCaptureSkipsEmptyFinals(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	dec := &scriptDecoder{steps: []scriptStep{
		{res: Result{Text: "", Final: true}},
		{res: Result{Text: "   ", Final: true}},
		{res: Result{Text: "hello", Final: true}},
	}}
	c := NewCapturer(captureConfig(2000), defaultStops, queue, dec, testLogger())

	u, err := runCapture(t, c, queue, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Text != "hello" {
		t.Fatalf("expected the first non-empty final, got %q", u.Text)
	}
}

func TestCaptureSkipsDecodeErrors(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	dec := &scriptDecoder{steps: []scriptStep{
		{err: errors.New("bad frame")},
		{err: errors.New("bad frame")},
		{res: Result{Text: "still here", Final: true}},
	}}
	c := NewCapturer(captureConfig(2000), defaultStops, queue, dec, testLogger())

	u, err := runCapture(t, c, queue, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Text != "still here" {
		t.Fatalf("unexpected utterance %q", u.Text)
	}
}

func TestCaptureTimesOut(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	dec := &scriptDecoder{} // nothing but empty partials
	c := NewCapturer(captureConfig(250), defaultStops, queue, dec, testLogger())

	_, err := runCapture(t, c, queue, 10)
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("expected ErrCaptureTimeout, got %v", err)
	}
}

func TestCaptureHonorsContext(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	dec := &scriptDecoder{}
	c := NewCapturer(captureConfig(10000), defaultStops, queue, dec, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Capture(ctx)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("capture ignored cancellation")
	}
}

func TestCaptureFlushesStaleFrames(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	for i := 0; i < 3; i++ {
		queue.Push(audio.Frame{int16(i)})
	}
	dec := &scriptDecoder{steps: []scriptStep{
		{res: Result{Text: "fresh", Final: true}},
	}}
	c := NewCapturer(captureConfig(2000), defaultStops, queue, dec, testLogger())

	u, err := runCapture(t, c, queue, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Text != "fresh" {
		t.Fatalf("unexpected utterance %q", u.Text)
	}
	if got := dec.acceptCount(); got != 1 {
		t.Fatalf("expected only the live frame to reach the decoder, got %d", got)
	}
}

func TestCaptureDetectsStopPhrase(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	dec := &scriptDecoder{steps: []scriptStep{
		{res: Result{Text: "Goodbye", Final: true}},
	}}
	c := NewCapturer(captureConfig(2000), defaultStops, queue, dec, testLogger())

	u, err := runCapture(t, c, queue, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.SessionEnd {
		t.Fatal("expected stop phrase to end the session")
	}
	if u.Text != "Goodbye" {
		t.Fatalf("utterance text must be preserved verbatim, got %q", u.Text)
	}
}

func TestIsStopPhrase(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"goodbye", true},
		{"Goodbye", true},
		{"  STOP  ", true},
		{"exit", true},
		{"goodbyee", false},
		{"say goodbye", false},
		{"stop!", false},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		if got := IsStopPhrase(tc.text, defaultStops); got != tc.want {
			t.Errorf("IsStopPhrase(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
