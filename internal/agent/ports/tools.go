package ports

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Tool executes a single named capability.
type Tool interface {
	// Execute runs the tool with the given request.
	Execute(ctx context.Context, req ToolCallRequest) ToolExecutionResult

	// Definition returns the tool's schema for the model.
	Definition() ToolDefinition

	// Metadata returns tool metadata.
	Metadata() ToolMetadata
}

// ToolRegistry manages available tools.
type ToolRegistry interface {
	// Register adds a tool to the registry.
	Register(tool Tool) error

	// Get retrieves a tool by name.
	Get(name string) (Tool, error)

	// List returns all available tool definitions.
	List() []ToolDefinition

	// Unregister removes a tool.
	Unregister(name string) error
}

// ExecutionMode selects how a tool batch is dispatched.
type ExecutionMode string

const (
	// ExecutionSequential runs requests in order and halts on a blocking error.
	ExecutionSequential ExecutionMode = "sequential"

	// ExecutionParallel runs all requests concurrently; every request
	// produces a result regardless of the others.
	ExecutionParallel ExecutionMode = "parallel"
)

// ToolCallRequest is a request to execute a tool. Immutable once constructed.
type ToolCallRequest struct {
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	CallID string         `json:"call_id,omitempty"`
}

// Key returns the result-map key for this request: the call ID when present,
// otherwise the tool name.
func (r ToolCallRequest) Key() string {
	if r.CallID != "" {
		return r.CallID
	}
	return r.Name
}

// StringInput returns a string argument by name, "" when absent or mistyped.
func (r ToolCallRequest) StringInput(key string) string {
	v, _ := r.Input[key].(string)
	return v
}

// ToolExecutionResult is produced exactly once per request; a retry is a new
// request.
type ToolExecutionResult struct {
	Success       bool
	Output        string
	Error         string
	ExecutionTime time.Duration
	Metadata      map[string]any
}

// Failed reports whether the result carries an error.
func (r ToolExecutionResult) Failed() bool { return !r.Success }

// MarshalJSON encodes ExecutionTime as integer milliseconds for wire parity
// with the status stream.
func (r ToolExecutionResult) MarshalJSON() ([]byte, error) {
	type alias struct {
		Success         bool           `json:"success"`
		Output          string         `json:"output"`
		Error           string         `json:"error,omitempty"`
		ExecutionTimeMs int64          `json:"execution_time_ms"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}
	return json.Marshal(alias{
		Success:         r.Success,
		Output:          r.Output,
		Error:           r.Error,
		ExecutionTimeMs: r.ExecutionTime.Milliseconds(),
		Metadata:        r.Metadata,
	})
}

// UnmarshalJSON accepts both string and object error representations.
func (r *ToolExecutionResult) UnmarshalJSON(data []byte) error {
	type alias struct {
		Success         bool            `json:"success"`
		Output          string          `json:"output"`
		Error           json.RawMessage `json:"error"`
		ExecutionTimeMs int64           `json:"execution_time_ms"`
		Metadata        map[string]any  `json:"metadata,omitempty"`
	}

	var aux alias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Success = aux.Success
	r.Output = aux.Output
	r.ExecutionTime = time.Duration(aux.ExecutionTimeMs) * time.Millisecond
	r.Metadata = aux.Metadata
	r.Error = ""

	raw := strings.TrimSpace(string(aux.Error))
	if raw == "" || raw == "null" {
		return nil
	}

	var errStr string
	if err := json.Unmarshal(aux.Error, &errStr); err == nil {
		r.Error = errStr
		return nil
	}

	var errObj map[string]any
	if err := json.Unmarshal(aux.Error, &errObj); err == nil {
		if msg, ok := errObj["message"].(string); ok && msg != "" {
			r.Error = msg
			return nil
		}
		if msg, ok := errObj["error"].(string); ok && msg != "" {
			r.Error = msg
			return nil
		}
	}

	r.Error = raw
	return nil
}

// ToolDefinition describes a tool for the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ToolMetadata contains tool information.
type ToolMetadata struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags,omitempty"`
	Dangerous bool     `json:"dangerous"`
}

// ParameterSchema defines tool parameters (JSON Schema format).
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a single parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Enum        []any  `json:"enum,omitempty"`
}
