package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/murmurlabs/murmur-core/internal/stt"
	"github.com/murmurlabs/murmur-core/internal/wake"
)

// Session loop states as published on the bus.
const (
	StateIdle       = "idle"
	StateCapturing  = "capturing"
	StateResponding = "responding"
)

const farewellTimeout = 10 * time.Second

// Transcriber captures one utterance from the frame queue.
type Transcriber interface {
	Capture(ctx context.Context) (stt.Utterance, error)
	SetObserver(fn func(text string))
}

// TurnRunner executes one exchange with the language model.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, turnID, userText string) (string, error)
}

// WakeControl re-arms wake detection once a session ends.
type WakeControl interface {
	Arm()
}

// Service drives the idle, capturing, and responding loop. A wake
// detection opens a session; the service captures a command, runs the
// turn, and returns to idle by re-arming the gate. Errors inside a
// turn end the session but never the loop.
type Service struct {
	cfg      config.SessionConfig
	sttCfg   config.STTConfig
	capturer Transcriber
	turns    TurnRunner
	voice    Voice
	gate     WakeControl
	pub      Publisher
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wakeCh chan wake.Detection

	turnCount atomic.Uint64

	mu        sync.Mutex
	state     string
	sessionID string
}

func NewService(parent context.Context, cfg config.SessionConfig, sttCfg config.STTConfig, capturer Transcriber, turns TurnRunner, voice Voice, gate WakeControl, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		sttCfg:   sttCfg,
		capturer: capturer,
		turns:    turns,
		voice:    voice,
		gate:     gate,
		logger:   logger.With(slog.String("component", "session")),
		ctx:      ctx,
		cancel:   cancel,
		wakeCh:   make(chan wake.Detection, 1),
		state:    StateIdle,
	}
}

// SetPublisher attaches an optional bus publisher for session events.
func (s *Service) SetPublisher(pub Publisher) {
	s.pub = pub
}

func (s *Service) Start() error {
	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ctx.Err() == nil
}

// State reports where the session loop currently is.
func (s *Service) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleWake hands a detection to the session loop. It never blocks;
// the gate goroutine must stay free to keep scoring audio. A detection
// arriving while a session is active is dropped, the gate re-arms when
// that session ends.
func (s *Service) HandleWake(det wake.Detection) {
	select {
	case s.wakeCh <- det:
	default:
		s.logger.Debug("wake detection dropped, session already active",
			slog.String("keyword", det.Keyword))
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	s.setState("", StateIdle)
	for {
		select {
		case <-s.ctx.Done():
			return
		case det := <-s.wakeCh:
			s.runSession(det)
		}
	}
}

func (s *Service) runSession(det wake.Detection) {
	sessionID := uuid.NewString()
	s.logger.Info("wake word detected",
		slog.String("session_id", sessionID),
		slog.String("keyword", det.Keyword))
	s.publish(protocol.SubjectWakeDetected, protocol.WakeDetected{
		SessionID:    sessionID,
		Keyword:      det.Keyword,
		KeywordIndex: det.Index,
		Timestamp:    time.Now().UTC(),
	})

	for {
		end, err := s.runExchange(sessionID)
		if err != nil {
			switch {
			case errors.Is(err, stt.ErrCaptureTimeout):
				s.logger.Info("no command captured", slog.String("session_id", sessionID))
			case errors.Is(err, context.Canceled):
			default:
				s.logger.Error("turn failed", slog.String("session_id", sessionID), slogError(err))
				s.pause()
			}
			break
		}
		if end || !s.cfg.Continuous {
			break
		}
	}

	s.setState(sessionID, StateIdle)
	if s.gate != nil {
		s.gate.Arm()
	}
}

// runExchange captures one command and answers it. It reports whether
// the user asked to end the session.
func (s *Service) runExchange(sessionID string) (bool, error) {
	turnID := uuid.NewString()
	s.setState(sessionID, StateCapturing)

	if s.sttCfg.PublishInterim {
		s.capturer.SetObserver(func(text string) {
			s.publish(protocol.SubjectTranscriptPartial, protocol.Transcript{
				SessionID: sessionID,
				TurnID:    turnID,
				Text:      text,
				Partial:   true,
				Timestamp: time.Now().UTC(),
			})
		})
	}

	utt, err := s.capturer.Capture(s.ctx)
	if err != nil {
		return false, err
	}
	s.publish(protocol.SubjectTranscriptFinal, protocol.Transcript{
		SessionID: sessionID,
		TurnID:    turnID,
		Text:      utt.Text,
		Timestamp: time.Now().UTC(),
	})

	if utt.SessionEnd && s.cfg.EndOnStop {
		s.logger.Info("stop phrase heard",
			slog.String("session_id", sessionID),
			slog.String("text", utt.Text))
		s.sayFarewell()
		return true, nil
	}

	s.setState(sessionID, StateResponding)
	startedAt := time.Now().UTC()
	response, err := s.runTurn(sessionID, turnID, utt.Text)
	if err != nil {
		s.publish(protocol.SubjectSessionTurn, protocol.TurnRecord{
			SessionID:   sessionID,
			TurnID:      turnID,
			UserText:    utt.Text,
			Error:       err.Error(),
			StartedAt:   startedAt,
			CompletedAt: time.Now().UTC(),
		})
		return false, err
	}
	s.turnCount.Add(1)
	s.publish(protocol.SubjectSessionTurn, protocol.TurnRecord{
		SessionID:     sessionID,
		TurnID:        turnID,
		UserText:      utt.Text,
		AssistantText: response,
		StartedAt:     startedAt,
		CompletedAt:   time.Now().UTC(),
	})
	return false, nil
}

// runTurn converts a panic inside the turn into an ordinary error, so
// a misbehaving backend ends the session instead of the process.
func (s *Service) runTurn(sessionID, turnID, userText string) (response string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("turn panicked: %v", r)
		}
	}()
	return s.turns.RunTurn(s.ctx, sessionID, turnID, userText)
}

// Turns reports how many exchanges have completed successfully.
func (s *Service) Turns() uint64 { return s.turnCount.Load() }

func (s *Service) sayFarewell() {
	if s.cfg.Farewell == "" || s.voice == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, farewellTimeout)
	defer cancel()
	if err := s.voice.Enqueue(ctx, s.cfg.Farewell); err != nil {
		s.logger.Warn("failed to speak farewell", slogError(err))
		return
	}
	if err := s.voice.Drain(ctx); err != nil {
		s.logger.Warn("farewell playback incomplete", slogError(err))
	}
}

func (s *Service) pause() {
	if s.cfg.RetryPauseMS <= 0 {
		return
	}
	select {
	case <-time.After(time.Duration(s.cfg.RetryPauseMS) * time.Millisecond):
	case <-s.ctx.Done():
	}
}

func (s *Service) setState(sessionID, state string) {
	s.mu.Lock()
	s.state = state
	s.sessionID = sessionID
	s.mu.Unlock()
	s.publish(protocol.SubjectSessionState, protocol.SessionState{
		SessionID: sessionID,
		State:     state,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publish(subject string, payload any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(subject, payload); err != nil {
		s.logger.Warn("failed to publish session event", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
