package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/llm"
	"github.com/murmurlabs/murmur-core/internal/protocol"
)

// Publisher posts pipeline events to the message bus.
type Publisher interface {
	PublishJSON(subject string, payload any) error
}

// Voice queues sentences for playback and waits for the queue to empty.
type Voice interface {
	Enqueue(ctx context.Context, text string) error
	Drain(ctx context.Context) error
}

// TurnController runs a single exchange: it streams the model reply,
// cuts it into sentences, and queues each sentence for playback while
// the rest of the reply is still generating.
type TurnController struct {
	cfg     config.LLMConfig
	gen     llm.Generator
	voice   Voice
	history *History
	pub     Publisher
	log     *slog.Logger
}

func NewTurnController(cfg config.LLMConfig, gen llm.Generator, voice Voice, history *History, logger *slog.Logger) *TurnController {
	return &TurnController{
		cfg:     cfg,
		gen:     gen,
		voice:   voice,
		history: history,
		log:     logger.With(slog.String("component", "turn")),
	}
}

// SetPublisher attaches an optional bus publisher for turn events.
func (tc *TurnController) SetPublisher(pub Publisher) {
	tc.pub = pub
}

// RunTurn generates and speaks the reply to userText. It returns the
// full reply once playback has finished. The conversation history is
// updated only when the whole turn has completed; a failed turn leaves
// it untouched.
func (tc *TurnController) RunTurn(ctx context.Context, sessionID, turnID, userText string) (string, error) {
	req := llm.RequestFromConfig(tc.cfg)
	req.SessionID = sessionID
	req.TurnID = turnID
	req.History = append(tc.history.Snapshot(), llm.Message{Role: llm.RoleUser, Content: userText})

	genCtx := ctx
	if tc.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, time.Duration(tc.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	started := time.Now()
	var seg Segmenter
	var full strings.Builder
	var promptTokens, completionTokens int
	sequence := 0

	speak := func(fragment string) error {
		text := strings.TrimSpace(fragment)
		if text == "" {
			return nil
		}
		if err := tc.voice.Enqueue(ctx, text); err != nil {
			return fmt.Errorf("queue speech: %w", err)
		}
		tc.publish(protocol.SubjectSpeechSegment, protocol.SpeechSegment{
			SessionID: sessionID,
			TurnID:    turnID,
			Sequence:  sequence,
			Text:      text,
			Timestamp: time.Now().UTC(),
		})
		sequence++
		return nil
	}

	err := tc.gen.Generate(genCtx, req, func(chunk llm.Chunk) error {
		if !chunk.Partial {
			promptTokens = chunk.PromptTokens
			completionTokens = chunk.CompletionTokens
		}
		if chunk.Content == "" {
			return nil
		}
		full.WriteString(chunk.Content)
		tc.publish(protocol.SubjectResponseDelta, protocol.ResponseDelta{
			SessionID: sessionID,
			TurnID:    turnID,
			Text:      chunk.Content,
			Timestamp: time.Now().UTC(),
		})
		for _, fragment := range seg.Feed(chunk.Content) {
			if err := speak(fragment); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	if err := speak(seg.Flush()); err != nil {
		return "", err
	}

	response := full.String()
	tc.publish(protocol.SubjectResponseDone, protocol.ResponseDone{
		SessionID: sessionID,
		TurnID:    turnID,
		Text:      response,
		Timestamp: time.Now().UTC(),
	})
	tc.log.Info("reply generated",
		slog.String("session_id", sessionID),
		slog.Int("sentences", sequence),
		slog.Int("prompt_tokens", promptTokens),
		slog.Int("completion_tokens", completionTokens),
		slog.Duration("elapsed", time.Since(started)))

	if err := tc.voice.Drain(ctx); err != nil {
		return "", fmt.Errorf("wait for playback: %w", err)
	}

	tc.history.AddTurn(userText, response)
	return response, nil
}

func (tc *TurnController) publish(subject string, payload any) {
	if tc.pub == nil {
		return
	}
	if err := tc.pub.PublishJSON(subject, payload); err != nil {
		tc.log.Warn("failed to publish turn event", slog.String("subject", subject), slogError(err))
	}
}
