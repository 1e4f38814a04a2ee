package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// Chat roles. Backends that use different names map them internally.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one conversational turn. History already ends with
// the user's newest message; backends must not reorder it.
type Request struct {
	SessionID   string
	TurnID      string
	System      string
	History     []Message
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	TurnID           string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable language model backend. Chunks reach
// the consumer in stream order; a consumer error aborts the stream and
// is returned unchanged.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// RequestFromConfig seeds a request with the configured generation
// parameters.
func RequestFromConfig(cfg config.LLMConfig) Request {
	return Request{
		System:      cfg.SystemPrompt,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// New builds the backend selected by cfg.Mode.
func New(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "gemini":
		return NewGeminiGenerator(cfg.APIKey, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}
