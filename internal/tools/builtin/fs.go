package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"foreman/internal/agent/ports"
)

type fileRead struct {
	root string
}

// NewFileRead reads files confined to the workspace root.
func NewFileRead(root string) ports.Tool {
	return &fileRead{root: root}
}

func (t *fileRead) Execute(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
	path := req.StringInput("path")
	if path == "" {
		return failure("missing 'path'")
	}
	resolved, err := resolvePath(t.root, path)
	if err != nil {
		return failure("%v", err)
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return failure("%v", err)
	}
	return successMeta(string(content), map[string]any{
		"path":  resolved,
		"bytes": len(content),
		"lines": countLines(string(content)),
	})
}

func (t *fileRead) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file_read",
		Description: "Read file contents",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "File path"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *fileRead) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "file_read", Version: "1.0.0", Category: "filesystem",
	}
}

type fileWrite struct {
	root string
}

// NewFileWrite writes files confined to the workspace root, creating parent
// directories as needed.
func NewFileWrite(root string) ports.Tool {
	return &fileWrite{root: root}
}

func (t *fileWrite) Execute(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
	path := req.StringInput("path")
	if path == "" {
		return failure("missing 'path'")
	}
	content, ok := req.Input["content"].(string)
	if !ok {
		return failure("missing 'content'")
	}
	resolved, err := resolvePath(t.root, path)
	if err != nil {
		return failure("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return failure("%v", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return failure("%v", err)
	}
	return successMeta(fmt.Sprintf("wrote %d bytes to %s", len(content), path), map[string]any{
		"path":  resolved,
		"bytes": len(content),
	})
}

func (t *fileWrite) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file_write",
		Description: "Write content to a file, creating it if missing",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path":    {Type: "string", Description: "File path"},
				"content": {Type: "string", Description: "Full file content"},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *fileWrite) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "file_write", Version: "1.0.0", Category: "filesystem", Dangerous: true,
	}
}

type listFiles struct {
	root string
}

// NewListFiles lists a directory confined to the workspace root.
func NewListFiles(root string) ports.Tool {
	return &listFiles{root: root}
}

func (t *listFiles) Execute(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
	path := req.StringInput("path")
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(t.root, path)
	if err != nil {
		return failure("%v", err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return failure("%v", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return successMeta(strings.Join(names, "\n"), map[string]any{
		"path":  resolved,
		"count": len(names),
	})
}

func (t *listFiles) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_files",
		Description: "List directory entries",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Directory path, defaults to the workspace root"},
			},
		},
	}
}

func (t *listFiles) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "list_files", Version: "1.0.0", Category: "filesystem",
	}
}
