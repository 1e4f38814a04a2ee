package wake

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gateConfig() config.WakeConfig {
	return config.WakeConfig{
		Mode:              "mock",
		Keywords:          []string{"bumblebee"},
		OverflowWindowSec: 60,
		OverflowThreshold: 5,
	}
}

func TestGateFiresExactlyOncePerIdlePeriod(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	engine := NewMockEngine("bumblebee", 2)
	var fired atomic.Int32
	firedCh := make(chan Detection, 4)

	gate := NewGate(context.Background(), gateConfig(), engine, queue, func(d Detection) {
		fired.Add(1)
		firedCh <- d
	}, testLogger())
	gate.Start()
	defer gate.Close()

	for i := 0; i < 8; i++ {
		queue.Push(audio.Frame{0})
	}

	select {
	case det := <-firedCh:
		if det.Keyword != "bumblebee" {
			t.Fatalf("unexpected keyword %q", det.Keyword)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gate never fired")
	}
	if gate.Armed() {
		t.Fatal("gate must disarm after firing")
	}

	// Frames arriving while disarmed must not fire again.
	for i := 0; i < 8; i++ {
		queue.Push(audio.Frame{0})
	}
	time.Sleep(300 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly one trigger, got %d", got)
	}

	// Re-arming starts a fresh idle period.
	gate.Arm()
	for i := 0; i < 8; i++ {
		queue.Push(audio.Frame{0})
	}
	select {
	case <-firedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not fire after re-arm")
	}
}

func TestGateSuspendsAfterOverflowBurst(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	engine := NewMockEngine("bumblebee", 1)
	var fired atomic.Int32

	gate := NewGate(context.Background(), gateConfig(), engine, queue, func(Detection) {
		fired.Add(1)
	}, testLogger())

	var pending atomic.Uint64
	pending.Store(5)
	gate.SetOverflowSource(func() uint64 { return pending.Swap(0) })
	gate.Start()
	defer gate.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !gate.Suspended() {
		if time.Now().After(deadline) {
			t.Fatal("gate never suspended")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Frames still drain but the engine is no longer consulted.
	queue.Push(audio.Frame{0})
	time.Sleep(300 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("suspended gate must not fire")
	}

	// Resume clears the fault and detection picks back up.
	gate.Resume()
	queue.Push(audio.Frame{0})
	deadline = time.Now().Add(2 * time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("gate did not fire after resume")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGateOverflowBelowThresholdKeepsDetecting(t *testing.T) {
	queue := audio.NewFrameQueue(32)
	engine := NewMockEngine("bumblebee", 1)
	var fired atomic.Int32

	gate := NewGate(context.Background(), gateConfig(), engine, queue, func(Detection) {
		fired.Add(1)
	}, testLogger())

	var pending atomic.Uint64
	pending.Store(4)
	gate.SetOverflowSource(func() uint64 { return pending.Swap(0) })
	gate.Start()
	defer gate.Close()

	queue.Push(audio.Frame{0})
	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("gate should keep detecting below the overflow threshold")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if gate.Suspended() {
		t.Fatal("gate suspended below the threshold")
	}
}
