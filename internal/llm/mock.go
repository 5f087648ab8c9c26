package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"foreman/internal/agent/ports"
)

// Mock is a scripted CompletionService for tests and offline runs. Replies
// are consumed in order; a Script function, when set, takes precedence and
// receives the full request.
type Mock struct {
	mu      sync.Mutex
	replies []string
	calls   int

	// Script computes a reply from the request. Overrides the reply queue.
	Script func(req ports.CompletionRequest) (string, error)

	// Requests records every request received, in order.
	Requests []ports.CompletionRequest
}

// NewMock builds a Mock that returns the given replies in order and repeats
// the last one once the queue is exhausted.
func NewMock(replies ...string) *Mock {
	return &Mock{replies: replies}
}

// Calls returns how many completion calls the mock has served.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Model() string { return "mock" }

func (m *Mock) next(req ports.CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.Requests = append(m.Requests, req)

	if m.Script != nil {
		return m.Script(req)
	}
	if len(m.replies) == 0 {
		return "", fmt.Errorf("mock completion has no scripted replies")
	}
	idx := m.calls - 1
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	return m.replies[idx], nil
}

func (m *Mock) Complete(_ context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	content, err := m.next(req)
	if err != nil {
		return nil, err
	}
	return &ports.CompletionResponse{
		Content:    content,
		StopReason: "stop",
		Usage:      ports.TokenUsage{PromptTokens: 32, CompletionTokens: 16, TotalTokens: 48},
	}, nil
}

func (m *Mock) CompleteStream(ctx context.Context, req ports.CompletionRequest, onChunk ports.ChunkHandler) (*ports.CompletionResponse, error) {
	content, err := m.next(req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		for _, word := range strings.SplitAfter(content, " ") {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			onChunk(word)
		}
	}
	return &ports.CompletionResponse{
		Content:    content,
		StopReason: "stop",
		Usage:      ports.TokenUsage{PromptTokens: 32, CompletionTokens: 16, TotalTokens: 48},
	}, nil
}

var _ ports.CompletionService = (*Mock)(nil)
