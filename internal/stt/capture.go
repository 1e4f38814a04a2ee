package stt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
)

// ErrCaptureTimeout is returned when no usable utterance arrived
// within the configured capture window.
var ErrCaptureTimeout = errors.New("stt: capture timed out waiting for speech")

// framePollInterval bounds how long the capture loop waits on an empty
// queue before rechecking its deadline and context.
const framePollInterval = 100 * time.Millisecond

// Capturer runs the command capture loop: it owns the frame queue from
// the moment the wake gate hands it over until a final, non-empty
// utterance is decoded or the window expires.
type Capturer struct {
	cfg         config.STTConfig
	stopPhrases []string
	queue       *audio.FrameQueue
	decoder     Decoder
	observer    func(text string)
	log         *slog.Logger
	timeouts    atomic.Uint64
}

func NewCapturer(cfg config.STTConfig, stopPhrases []string, queue *audio.FrameQueue, decoder Decoder, log *slog.Logger) *Capturer {
	return &Capturer{
		cfg:         cfg,
		stopPhrases: stopPhrases,
		queue:       queue,
		decoder:     decoder,
		log:         log,
	}
}

// SetObserver registers a callback invoked with each new partial
// transcript. The callback runs on the capture loop and should return
// quickly.
func (c *Capturer) SetObserver(fn func(text string)) {
	c.observer = fn
}

// Capture flushes stale frames, then decodes live audio until the
// decoder yields a final, non-empty utterance. Empty finals and decode
// errors are logged and skipped; the loop gives up with
// ErrCaptureTimeout once the capture window has passed without a
// usable result.
func (c *Capturer) Capture(ctx context.Context) (Utterance, error) {
	if flushed := c.queue.Flush(); flushed > 0 {
		c.log.Debug("flushed stale frames before capture",
			slog.String("component", "stt"),
			slog.Int("frames", flushed))
	}
	c.decoder.Reset()

	deadline := time.Now().Add(time.Duration(c.cfg.CaptureTimeoutMS) * time.Millisecond)
	var lastPartial string

	for {
		if err := ctx.Err(); err != nil {
			return Utterance{}, err
		}
		if time.Now().After(deadline) {
			c.timeouts.Add(1)
			return Utterance{}, ErrCaptureTimeout
		}

		frame, ok := c.queue.Pop(framePollInterval)
		if !ok {
			continue
		}

		res, err := c.decoder.Accept(frame)
		if err != nil {
			c.log.Warn("decode failed, skipping frame",
				slog.String("component", "stt"),
				slogError(err))
			continue
		}

		if !res.Final {
			if res.Text != "" && res.Text != lastPartial {
				lastPartial = res.Text
				if c.observer != nil {
					c.observer(res.Text)
				}
			}
			continue
		}

		text := strings.TrimSpace(res.Text)
		if text == "" {
			// Silence closed the utterance without content; keep
			// listening until the window runs out.
			c.log.Info("no speech recognized, still listening",
				slog.String("component", "stt"))
			lastPartial = ""
			continue
		}

		return Utterance{Text: text, SessionEnd: IsStopPhrase(text, c.stopPhrases)}, nil
	}
}

// Timeouts reports how many capture windows expired without speech.
func (c *Capturer) Timeouts() uint64 { return c.timeouts.Load() }

// IsStopPhrase reports whether text, lowercased and trimmed, exactly
// equals one of the configured stop phrases. Matching is exact, not a
// substring test: "goodbye" ends the session, "goodbyes" does not.
func IsStopPhrase(text string, phrases []string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return false
	}
	for _, p := range phrases {
		if norm == strings.ToLower(strings.TrimSpace(p)) {
			return true
		}
	}
	return false
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
