// Package builtin provides the capability adapters workers call through the
// executor: filesystem, shell, version control, package manager, and web
// fetch. Adapters normalize every failure into the result shape; they never
// return Go errors to the dispatch layer.
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"

	"foreman/internal/agent/ports"
)

func success(output string) ports.ToolExecutionResult {
	return ports.ToolExecutionResult{Success: true, Output: output}
}

func successMeta(output string, metadata map[string]any) ports.ToolExecutionResult {
	return ports.ToolExecutionResult{Success: true, Output: output, Metadata: metadata}
}

func failure(format string, args ...any) ports.ToolExecutionResult {
	return ports.ToolExecutionResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// resolvePath confines a caller-supplied path to the workspace root. With an
// empty root the path is used as given (single-user CLI mode).
func resolvePath(root, path string) (string, error) {
	if root == "" {
		return filepath.Clean(path), nil
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return resolved, nil
}

func countLines(output string) int {
	if output == "" {
		return 0
	}
	return strings.Count(output, "\n") + 1
}
