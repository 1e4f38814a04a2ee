package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

// Generate streams a canned reply in several chunks so downstream
// segmentation and playback get exercised without a real backend.
func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	var lastUser string
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == RoleUser {
			lastUser = strings.TrimSpace(req.History[i].Content)
			break
		}
	}

	start := time.Now()
	parts := []string{
		"You said: " + lastUser + ". ",
		"I am the mock voice model. ",
		"Configure a real backend to get proper answers.",
	}
	for i, part := range parts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
		if err := consumer(Chunk{
			SessionID: req.SessionID,
			TurnID:    req.TurnID,
			Content:   part,
			Partial:   i < len(parts)-1,
			Latency:   time.Since(start),
		}); err != nil {
			return err
		}
	}
	return nil
}
