// Package llm implements ports.CompletionService against any
// OpenAI-compatible chat completions endpoint. Transient failures are retried
// with backoff; the streaming path parses SSE deltas and accumulates them
// into the final response.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/logging"
)

// Config configures the completion client.
type Config struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	Model       string        `yaml:"model" mapstructure:"model"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
}

// Client talks to an OpenAI-compatible chat completions API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      errs.RetryConfig
	logger     logging.Logger
}

// New builds a Client. Zero config values fall back to defaults.
func New(cfg Config, logger logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	retry := errs.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      retry,
		logger:     logging.OrNop(logger),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.cfg.Model }

// wire types for the chat completions API

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// Complete sends one completion request and returns the accumulated reply.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return errs.RetryWithResultAndLog(ctx, c.retry, func(ctx context.Context) (*ports.CompletionResponse, error) {
		return c.doComplete(ctx, req)
	}, c.logger)
}

// CompleteStream sends one completion request and forwards each text delta to
// onChunk. The chunk sequence is finite; the returned response carries the
// accumulated content.
func (c *Client) CompleteStream(ctx context.Context, req ports.CompletionRequest, onChunk ports.ChunkHandler) (*ports.CompletionResponse, error) {
	// Only the connection attempt is retried. Once a chunk has been
	// forwarded the stream is not restartable: a retry would replay
	// delivered chunks, so a mid-stream failure becomes permanent.
	delivered := false
	forward := func(chunk string) {
		delivered = true
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return errs.RetryWithResultAndLog(ctx, c.retry, func(ctx context.Context) (*ports.CompletionResponse, error) {
		resp, err := c.doStream(ctx, req, forward)
		if err != nil && delivered {
			return nil, errs.NewPermanentError(err, "completion stream interrupted mid-response")
		}
		return resp, err
	}, c.logger)
}

func (c *Client) doComplete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	resp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.NewTransientError(err, "malformed completion response")
	}
	if len(parsed.Choices) == 0 {
		return nil, errs.NewTransientError(fmt.Errorf("empty choices"), "completion returned no choices")
	}

	choice := parsed.Choices[0]
	return &ports.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: ports.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) doStream(ctx context.Context, req ports.CompletionRequest, onChunk ports.ChunkHandler) (*ports.CompletionResponse, error) {
	resp, err := c.post(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var content strings.Builder
	var usage chatUsage
	stopReason := ""

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var delta chatResponse
		if err := json.Unmarshal([]byte(payload), &delta); err != nil {
			c.logger.Debug("skipping malformed stream chunk: %v", err)
			continue
		}
		if delta.Usage.TotalTokens > 0 {
			usage = delta.Usage
		}
		if len(delta.Choices) == 0 {
			continue
		}
		choice := delta.Choices[0]
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if onChunk != nil {
				onChunk(choice.Delta.Content)
			}
		}
		if choice.FinishReason != "" {
			stopReason = choice.FinishReason
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.NewTransientError(err, "completion stream interrupted")
	}

	return &ports.CompletionResponse{
		Content:    content.String(),
		StopReason: stopReason,
		Usage: ports.TokenUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
	}, nil
}

func (c *Client) buildRequest(req ports.CompletionRequest, stream bool) chatRequest {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: ports.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := m.Role
		// The tool role is an internal convention; downstream providers see
		// tool results as user turns.
		if role == ports.RoleTool {
			role = ports.RoleUser
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Content})
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	return chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
		Stream:      stream,
	}
}

func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errs.NewPermanentError(err, "failed to encode completion request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, errs.NewPermanentError(err, "failed to build completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.NewTransientError(err, "completion endpoint unreachable")
	}
	return resp, nil
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("completion request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errs.NewTransientError(err, "completion provider is temporarily unavailable")
	default:
		return errs.NewPermanentError(err, "completion request rejected by provider")
	}
}

var _ ports.CompletionService = (*Client)(nil)
