package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator shells out to an arbitrary command. The request is
// written to stdin as a single JSON document; the command streams its
// reply as JSON lines on stdout, one chunk per line. A line carrying
// "done": true closes the stream and may report token counts.
type execGenerator struct {
	cmd []string
	mu  sync.Mutex
}

type execChunk struct {
	Content          string `json:"content"`
	Done             bool   `json:"done"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(map[string]any{
		"system":      req.System,
		"messages":    req.History,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llm command: %w", err)
	}

	start := time.Now()
	sawDone := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ec execChunk
		if err := json.Unmarshal(line, &ec); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return fmt.Errorf("decode llm exec chunk: %w", err)
		}
		if err := consumer(Chunk{
			SessionID:        req.SessionID,
			TurnID:           req.TurnID,
			Content:          ec.Content,
			Partial:          !ec.Done,
			PromptTokens:     ec.PromptTokens,
			CompletionTokens: ec.CompletionTokens,
			Latency:          time.Since(start),
		}); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return err
		}
		if ec.Done {
			sawDone = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("read llm command output: %w", err)
	}
	_, _ = io.Copy(io.Discard, stdout)
	if err := cmd.Wait(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("llm exec command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("llm exec command failed: %w", err)
	}
	// Every successful stream ends with exactly one terminal chunk;
	// synthesize it for commands that exit without a done marker.
	if !sawDone {
		return consumer(Chunk{
			SessionID: req.SessionID,
			TurnID:    req.TurnID,
			Partial:   false,
			Latency:   time.Since(start),
		})
	}
	return nil
}
