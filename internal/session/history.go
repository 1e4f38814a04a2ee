package session

import (
	"sync"

	"github.com/murmurlabs/murmur-core/internal/llm"
)

// History holds the conversation so far in chronological order,
// bounded to the configured number of turns. One turn is a user
// message followed by the assistant reply.
type History struct {
	mu       sync.Mutex
	maxTurns int
	messages []llm.Message
}

// NewHistory creates an empty history. maxTurns <= 0 means unbounded.
func NewHistory(maxTurns int) *History {
	return &History{maxTurns: maxTurns}
}

// Snapshot returns a copy of the messages accumulated so far.
func (h *History) Snapshot() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// AddTurn records a completed exchange. Both messages land together so
// a reader never observes a user message without its reply.
func (h *History) AddTurn(user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages,
		llm.Message{Role: llm.RoleUser, Content: user},
		llm.Message{Role: llm.RoleAssistant, Content: assistant},
	)
	if h.maxTurns > 0 {
		for len(h.messages) > h.maxTurns*2 {
			h.messages = h.messages[2:]
		}
	}
}

// Len reports the number of stored messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
