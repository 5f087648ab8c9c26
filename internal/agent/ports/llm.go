package ports

import "context"

// CompletionService represents any language-model provider.
type CompletionService interface {
	// Complete sends messages and returns the accumulated response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends messages and invokes onChunk for each text delta.
	// The returned response carries the accumulated content; the chunk
	// sequence is finite and not restartable.
	CompleteStream(ctx context.Context, req CompletionRequest, onChunk ChunkHandler) (*CompletionResponse, error)

	// Model returns the model identifier.
	Model() string
}

// ChunkHandler consumes incremental completion text.
type ChunkHandler func(chunk string)

// CompletionRequest contains all parameters for one completion call.
type CompletionRequest struct {
	SystemPrompt  string         `json:"system_prompt,omitempty"`
	Messages      []Message      `json:"messages"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	StopSequences []string       `json:"stop,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CompletionResponse is the provider's accumulated reply.
type CompletionResponse struct {
	Content    string     `json:"content"`
	StopReason string     `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message represents a conversation message.
type Message struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
