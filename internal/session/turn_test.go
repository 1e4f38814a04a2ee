package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/llm"
	"github.com/murmurlabs/murmur-core/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptGenerator struct {
	mu     sync.Mutex
	chunks []llm.Chunk
	err    error
	reqs   []llm.Request
}

func (g *scriptGenerator) Generate(ctx context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	for _, chunk := range g.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := consumer(chunk); err != nil {
			return err
		}
	}
	return g.err
}

func (g *scriptGenerator) requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]llm.Request, len(g.reqs))
	copy(out, g.reqs)
	return out
}

type fakeVoice struct {
	mu         sync.Mutex
	texts      []string
	drains     int
	enqueueErr error
	failAfter  int
	drainErr   error
}

func (v *fakeVoice) Enqueue(ctx context.Context, text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.enqueueErr != nil && len(v.texts) >= v.failAfter {
		return v.enqueueErr
	}
	v.texts = append(v.texts, text)
	return nil
}

func (v *fakeVoice) Drain(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.drains++
	return v.drainErr
}

func (v *fakeVoice) spoken() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.texts))
	copy(out, v.texts)
	return out
}

func (v *fakeVoice) drainCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.drains
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *recordingPublisher) PublishJSON(subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *recordingPublisher) published() ([]string, []any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subjects := make([]string, len(p.subjects))
	copy(subjects, p.subjects)
	payloads := make([]any, len(p.payloads))
	copy(payloads, p.payloads)
	return subjects, payloads
}

func turnConfig() config.LLMConfig {
	return config.LLMConfig{
		Mode:         "mock",
		SystemPrompt: "Be brief.",
		MaxTokens:    64,
		Temperature:  0.5,
		TimeoutMS:    5000,
	}
}

func chunksOf(parts ...string) []llm.Chunk {
	out := make([]llm.Chunk, 0, len(parts))
	for i, part := range parts {
		out = append(out, llm.Chunk{Content: part, Partial: i != len(parts)-1})
	}
	return out
}

func TestRunTurnStreamsSentencesToVoice(t *testing.T) {
	gen := &scriptGenerator{chunks: chunksOf("The lights", " are on. Anything", " else?")}
	voice := &fakeVoice{}
	history := NewHistory(8)
	tc := NewTurnController(turnConfig(), gen, voice, history, testLogger())

	response, err := tc.RunTurn(context.Background(), "sess-1", "turn-1", "turn on the lights")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if response != "The lights are on. Anything else?" {
		t.Fatalf("unexpected response %q", response)
	}

	spoken := voice.spoken()
	if len(spoken) != 2 {
		t.Fatalf("expected 2 sentences queued, got %d: %v", len(spoken), spoken)
	}
	if spoken[0] != "The lights are on." || spoken[1] != "Anything else?" {
		t.Fatalf("unexpected sentences: %v", spoken)
	}
	if voice.drainCount() != 1 {
		t.Fatalf("expected one drain, got %d", voice.drainCount())
	}

	msgs := history.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != "turn on the lights" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || msgs[1].Content != response {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
}

func TestRunTurnSendsHistorySnapshot(t *testing.T) {
	gen := &scriptGenerator{chunks: chunksOf("Sure.")}
	history := NewHistory(8)
	history.AddTurn("what time is it", "It is noon.")
	tc := NewTurnController(turnConfig(), gen, &fakeVoice{}, history, testLogger())

	if _, err := tc.RunTurn(context.Background(), "sess-1", "turn-2", "thanks"); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	reqs := gen.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.System != "Be brief." {
		t.Fatalf("unexpected system prompt %q", req.System)
	}
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "what time is it"},
		{Role: llm.RoleAssistant, Content: "It is noon."},
		{Role: llm.RoleUser, Content: "thanks"},
	}
	if len(req.History) != len(want) {
		t.Fatalf("expected %d history messages, got %d", len(want), len(req.History))
	}
	for i, msg := range want {
		if req.History[i] != msg {
			t.Fatalf("history[%d] = %+v, want %+v", i, req.History[i], msg)
		}
	}
}

func TestRunTurnPublishesEvents(t *testing.T) {
	gen := &scriptGenerator{chunks: chunksOf("One. ", "Two.")}
	pub := &recordingPublisher{}
	tc := NewTurnController(turnConfig(), gen, &fakeVoice{}, NewHistory(8), testLogger())
	tc.SetPublisher(pub)

	if _, err := tc.RunTurn(context.Background(), "sess-1", "turn-1", "count"); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	subjects, payloads := pub.published()
	counts := map[string]int{}
	for _, subject := range subjects {
		counts[subject]++
	}
	if counts["llm.response.delta"] != 2 {
		t.Fatalf("expected 2 delta events, got %d", counts["llm.response.delta"])
	}
	if counts["tts.segment"] != 2 {
		t.Fatalf("expected 2 segment events, got %d", counts["tts.segment"])
	}
	if counts["llm.response.done"] != 1 {
		t.Fatalf("expected 1 done event, got %d", counts["llm.response.done"])
	}

	var segments []protocol.SpeechSegment
	for i, subject := range subjects {
		if subject != "tts.segment" {
			continue
		}
		segment, ok := payloads[i].(protocol.SpeechSegment)
		if !ok {
			t.Fatalf("segment payload has type %T", payloads[i])
		}
		segments = append(segments, segment)
	}
	if segments[0].Sequence != 0 || segments[0].Text != "One." {
		t.Fatalf("unexpected first segment: %+v", segments[0])
	}
	if segments[1].Sequence != 1 || segments[1].Text != "Two." {
		t.Fatalf("unexpected second segment: %+v", segments[1])
	}

	var done protocol.ResponseDone
	for i, subject := range subjects {
		if subject == "llm.response.done" {
			done = payloads[i].(protocol.ResponseDone)
		}
	}
	if done.Text != "One. Two." {
		t.Fatalf("unexpected done text %q", done.Text)
	}
}

func TestRunTurnFlushesRemainder(t *testing.T) {
	gen := &scriptGenerator{chunks: chunksOf("no punctuation at all")}
	voice := &fakeVoice{}
	tc := NewTurnController(turnConfig(), gen, voice, NewHistory(8), testLogger())

	response, err := tc.RunTurn(context.Background(), "sess-1", "turn-1", "hm")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if response != "no punctuation at all" {
		t.Fatalf("unexpected response %q", response)
	}
	spoken := voice.spoken()
	if len(spoken) != 1 || spoken[0] != "no punctuation at all" {
		t.Fatalf("expected unterminated tail to be spoken, got %v", spoken)
	}
}

func TestRunTurnGeneratorErrorLeavesHistory(t *testing.T) {
	gen := &scriptGenerator{
		chunks: []llm.Chunk{{Content: "Half a sen", Partial: true}},
		err:    errors.New("backend unreachable"),
	}
	voice := &fakeVoice{}
	history := NewHistory(8)
	tc := NewTurnController(turnConfig(), gen, voice, history, testLogger())

	_, err := tc.RunTurn(context.Background(), "sess-1", "turn-1", "hello")
	if err == nil {
		t.Fatal("expected error from failing generator")
	}
	if !strings.Contains(err.Error(), "backend unreachable") {
		t.Fatalf("unexpected error: %v", err)
	}
	if history.Len() != 0 {
		t.Fatalf("history should stay empty after a failed turn, got %d messages", history.Len())
	}
	if voice.drainCount() != 0 {
		t.Fatalf("failed turn should not wait for playback, got %d drains", voice.drainCount())
	}
}

func TestRunTurnEnqueueErrorAborts(t *testing.T) {
	gen := &scriptGenerator{chunks: chunksOf("One. Two. Three.")}
	voice := &fakeVoice{enqueueErr: errors.New("synthesis failed"), failAfter: 1}
	history := NewHistory(8)
	tc := NewTurnController(turnConfig(), gen, voice, history, testLogger())

	_, err := tc.RunTurn(context.Background(), "sess-1", "turn-1", "count")
	if err == nil {
		t.Fatal("expected error when queueing speech fails")
	}
	if history.Len() != 0 {
		t.Fatalf("history should stay empty, got %d messages", history.Len())
	}
}

func TestRunTurnEmptyReplyCompletes(t *testing.T) {
	gen := &scriptGenerator{chunks: nil}
	voice := &fakeVoice{}
	history := NewHistory(8)
	tc := NewTurnController(turnConfig(), gen, voice, history, testLogger())

	response, err := tc.RunTurn(context.Background(), "sess-1", "turn-1", "say nothing")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if response != "" {
		t.Fatalf("expected empty response, got %q", response)
	}
	if len(voice.spoken()) != 0 {
		t.Fatalf("nothing should be queued for an empty reply, got %v", voice.spoken())
	}
	if voice.drainCount() != 1 {
		t.Fatalf("expected one drain, got %d", voice.drainCount())
	}
	if history.Len() != 2 {
		t.Fatalf("expected the empty exchange recorded, got %d messages", history.Len())
	}
}
