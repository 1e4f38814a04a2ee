package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/eventstore"
	"github.com/murmurlabs/murmur-core/internal/feed"
	"github.com/murmurlabs/murmur-core/internal/llm"
	"github.com/murmurlabs/murmur-core/internal/natsserver"
	"github.com/murmurlabs/murmur-core/internal/session"
	"github.com/murmurlabs/murmur-core/internal/status"
	"github.com/murmurlabs/murmur-core/internal/stt"
	"github.com/murmurlabs/murmur-core/internal/tts"
	"github.com/murmurlabs/murmur-core/internal/wake"
)

// Mock backends need a cadence to fake activity with: the wake engine
// fires roughly every five seconds of frames, the decoder finalizes an
// utterance a bit over one second after capture starts.
const (
	mockWakeFrames      = 150
	mockUtteranceFrames = 40
	mockUtterance       = "what time is it"
)

// Runtime assembles the whole voice pipeline and runs it until the
// context is cancelled.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every pipeline stage, serves the HTTP surface, and blocks
// until ctx is cancelled. Components shut down in reverse construction
// order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closers []func(context.Context)
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](shutdownCtx)
		}
	}()

	tracerClose, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tracerClose
	closers = append(closers, func(c context.Context) {
		if err := r.tracerClose(c); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	})

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	if embedded != nil {
		closers = append(closers, func(context.Context) { embedded.Shutdown() })
	}

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	closers = append(closers, func(context.Context) { busClient.Close() })

	if err := audio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	closers = append(closers, func(context.Context) { _ = audio.Terminate() })

	queue := audio.NewFrameQueue(r.cfg.Audio.QueueCapacity)
	input, err := audio.OpenInput(r.cfg.Audio, queue, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open input device: %w", err)
	}
	closers = append(closers, func(context.Context) { _ = input.Close() })

	engine, err := r.newWakeEngine()
	if err != nil {
		return fmt.Errorf("failed to load wake engine: %w", err)
	}
	closers = append(closers, func(context.Context) { _ = engine.Close() })

	decoder, err := r.newDecoder()
	if err != nil {
		return fmt.Errorf("failed to load speech decoder: %w", err)
	}
	closers = append(closers, func(context.Context) { _ = decoder.Close() })

	generator, err := llm.New(r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to build language backend: %w", err)
	}

	synth, err := tts.New(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to build synthesis backend: %w", err)
	}

	latency := time.Duration(r.cfg.Audio.LatencyMS) * time.Millisecond
	player, err := audio.OpenPlayer(r.cfg.Audio.OutputDevice, r.cfg.TTS.SampleRate, r.cfg.TTS.Channels, r.cfg.Audio.FrameLength, latency)
	if err != nil {
		return fmt.Errorf("failed to open output device: %w", err)
	}
	closers = append(closers, func(context.Context) { _ = player.Close() })

	speaker := tts.NewSpeaker(ctx, synth, player, r.logger)
	speaker.SetPublisher(busClient)
	speaker.Start()
	closers = append(closers, func(context.Context) { _ = speaker.Close() })

	capturer := stt.NewCapturer(r.cfg.STT, r.cfg.Session.StopPhrases, queue, decoder, r.logger)
	history := session.NewHistory(r.cfg.Session.HistoryMaxTurns)
	turns := session.NewTurnController(r.cfg.LLM, generator, speaker, history, r.logger)
	turns.SetPublisher(busClient)

	var sess *session.Service
	gate := wake.NewGate(ctx, r.cfg.Wake, engine, queue, func(det wake.Detection) { sess.HandleWake(det) }, r.logger)
	gate.SetOverflowSource(input.TakeOverflows)
	gate.SetPublisher(busClient)

	sess = session.NewService(ctx, r.cfg.Session, r.cfg.STT, capturer, turns, speaker, gate, r.logger)
	sess.SetPublisher(busClient)

	pipeMetrics, err := newPipelineMetrics(queue, gate, capturer, sess, busClient, r.logger)
	if err != nil {
		r.logger.Warn("failed to initialize pipeline metrics", slog.String("error", err.Error()))
	} else {
		closers = append(closers, func(context.Context) { pipeMetrics.Close() })
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	closers = append(closers, func(context.Context) { _ = store.Close() })

	recorder := eventstore.NewRecorder(ctx, store, busClient, r.cfg.Feed.Subjects, r.logger)
	if err := recorder.Start(); err != nil {
		return fmt.Errorf("failed to start event recorder: %w", err)
	}
	closers = append(closers, func(context.Context) { recorder.Close() })

	registry, err := status.NewRegistry(ctx, r.cfg.Node, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start status registry: %w", err)
	}
	closers = append(closers, func(context.Context) { registry.Close() })

	feedSvc := feed.NewService(ctx, r.cfg.Feed, busClient, r.logger)
	if err := feedSvc.Start(); err != nil {
		return fmt.Errorf("failed to start event feed: %w", err)
	}
	closers = append(closers, func(context.Context) { feedSvc.Close() })

	storeBackend := "ephemeral"
	if store.Persistent() {
		storeBackend = "sqlite"
	}
	busBackend := "external"
	if r.cfg.Bus.Embedded {
		busBackend = "embedded"
	}
	registry.Register("bus", busBackend, busClient.Healthy)
	registry.Register("audio", input.Device().Name, nil)
	registry.Register("wake", r.cfg.Wake.Mode, func() bool { return !gate.Suspended() })
	registry.Register("stt", r.cfg.STT.Mode, nil)
	registry.Register("llm", r.cfg.LLM.Mode, nil)
	registry.Register("tts", r.cfg.TTS.Mode, nil)
	registry.Register("session", "", sess.Healthy)
	registry.Register("store", storeBackend, nil)
	registry.Register("recorder", storeBackend, recorder.Healthy)
	registry.Register("feed", "websocket", feedSvc.Healthy)
	if err := registry.Announce(); err != nil {
		r.logger.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.Handle("/ws", feedSvc)
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"runtime":        r.cfg.RuntimeName,
			"environment":    r.cfg.Environment,
			"session_state":  sess.State(),
			"wake_suspended": gate.Suspended(),
			"stages":         registry.Snapshot(),
			"nodes":          registry.Nodes(),
		})
	})
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, req *http.Request) {
		rows, err := store.ListSessions(req.Context(), 50)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, sessionRows(rows))
	})
	mux.HandleFunc("GET /sessions/{id}/events", func(w http.ResponseWriter, req *http.Request) {
		events, err := store.ListSessionEvents(req.Context(), req.PathValue("id"), 200)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, eventRows(events))
	})
	mux.HandleFunc("POST /wake/resume", func(w http.ResponseWriter, req *http.Request) {
		gate.Resume()
		w.WriteHeader(http.StatusNoContent)
	})

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	closers = append(closers, func(c context.Context) {
		if err := r.httpServer.Shutdown(c); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		r.wg.Wait()
	})

	if err := sess.Start(); err != nil {
		return fmt.Errorf("failed to start session loop: %w", err)
	}
	closers = append(closers, func(context.Context) { sess.Close() })

	gate.Start()
	closers = append(closers, func(context.Context) { _ = gate.Close() })

	if err := input.Start(); err != nil {
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))
	r.logger.Info("voice pipeline listening",
		slog.String("input_device", input.Device().Name),
		slog.String("keywords", strings.Join(r.cfg.Wake.Keywords, ",")),
		slog.String("wake", r.cfg.Wake.Mode),
		slog.String("stt", r.cfg.STT.Mode),
		slog.String("llm", r.cfg.LLM.Mode),
		slog.String("tts", r.cfg.TTS.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) newWakeEngine() (wake.Engine, error) {
	switch r.cfg.Wake.Mode {
	case "vosk":
		return wake.NewVoskEngine(r.cfg.Wake, r.cfg.Audio.SampleRate)
	default:
		keyword := "murmur"
		if len(r.cfg.Wake.Keywords) > 0 {
			keyword = r.cfg.Wake.Keywords[0]
		}
		return wake.NewMockEngine(keyword, mockWakeFrames), nil
	}
}

func (r *Runtime) newDecoder() (stt.Decoder, error) {
	switch r.cfg.STT.Mode {
	case "vosk":
		return stt.NewVoskDecoder(r.cfg.STT, r.cfg.Audio.SampleRate)
	default:
		return stt.NewMockDecoder(mockUtterance, mockUtteranceFrames), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

type sessionRow struct {
	SessionID string    `json:"session_id"`
	Keyword   string    `json:"keyword,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func sessionRows(rows []eventstore.SessionRow) []sessionRow {
	out := make([]sessionRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionRow{SessionID: row.SessionID, Keyword: row.Keyword, CreatedAt: row.CreatedAt})
	}
	return out
}

type eventRow struct {
	ID        int64           `json:"id"`
	TurnID    string          `json:"turn_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func eventRows(events []eventstore.Event) []eventRow {
	out := make([]eventRow, 0, len(events))
	for _, evt := range events {
		out = append(out, eventRow{
			ID:        evt.ID,
			TurnID:    evt.TurnID,
			Type:      evt.Type,
			Payload:   json.RawMessage(evt.Payload),
			CreatedAt: evt.CreatedAt,
		})
	}
	return out
}
