package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"foreman/internal/agent/ports"
)

func TestFileReadAndWriteRoundTrip(t *testing.T) {
	root := t.TempDir()
	write := NewFileWrite(root)
	read := NewFileRead(root)

	res := write.Execute(context.Background(), ports.ToolCallRequest{
		Name:  "file_write",
		Input: map[string]any{"path": "src/app.go", "content": "package app\n"},
	})
	if !res.Success {
		t.Fatalf("write failed: %s", res.Error)
	}

	res = read.Execute(context.Background(), ports.ToolCallRequest{
		Name:  "file_read",
		Input: map[string]any{"path": "src/app.go"},
	})
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if res.Output != "package app\n" {
		t.Fatalf("read output = %q", res.Output)
	}
}

func TestFileReadMissingArgument(t *testing.T) {
	read := NewFileRead(t.TempDir())

	res := read.Execute(context.Background(), ports.ToolCallRequest{Name: "file_read", Input: map[string]any{}})
	if res.Success {
		t.Fatal("read without path should fail")
	}
	if !strings.Contains(res.Error, "path") {
		t.Fatalf("error = %q, want mention of path", res.Error)
	}
}

func TestFileReadNotFound(t *testing.T) {
	read := NewFileRead(t.TempDir())

	res := read.Execute(context.Background(), ports.ToolCallRequest{
		Name:  "file_read",
		Input: map[string]any{"path": "missing.txt"},
	})
	if res.Success {
		t.Fatal("reading a missing file should fail")
	}
}

func TestPathConfinement(t *testing.T) {
	root := t.TempDir()
	read := NewFileRead(root)

	res := read.Execute(context.Background(), ports.ToolCallRequest{
		Name:  "file_read",
		Input: map[string]any{"path": "../../etc/passwd"},
	})
	if res.Success {
		t.Fatal("path escape should be rejected")
	}
	if !strings.Contains(res.Error, "escapes the workspace") {
		t.Fatalf("error = %q, want workspace escape", res.Error)
	}
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	list := NewListFiles(root)
	res := list.Execute(context.Background(), ports.ToolCallRequest{Name: "list_files", Input: map[string]any{}})
	if !res.Success {
		t.Fatalf("list failed: %s", res.Error)
	}

	lines := strings.Split(res.Output, "\n")
	if len(lines) != 2 || lines[0] != "main.go" || lines[1] != "pkg/" {
		t.Fatalf("list output = %q", res.Output)
	}
}
