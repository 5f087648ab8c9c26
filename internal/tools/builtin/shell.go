package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/logging"
	"foreman/internal/security"
)

// ShellConfig configures the shell adapter.
type ShellConfig struct {
	WorkspaceRoot string
	Policies      *security.PolicyRegistry
	Timeout       time.Duration
	Logger        logging.Logger
}

// shell runs commands through bash -c after the security validator has
// cleared them against the executing worker's policy. The adapter is
// worker-bound: the executor caches one instance per worker.
type shell struct {
	cfg    ShellConfig
	worker string
}

// NewShell builds the unbound shell prototype registered in the registry.
func NewShell(cfg ShellConfig) ports.Tool {
	if cfg.Policies == nil {
		cfg.Policies = security.NewPolicyRegistry()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	return &shell{cfg: cfg}
}

// BindWorker returns a copy bound to one worker identity.
func (t *shell) BindWorker(worker string) ports.Tool {
	bound := *t
	bound.worker = worker
	return &bound
}

func (t *shell) Execute(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
	command := req.StringInput("command")
	if command == "" {
		return failure("missing 'command'")
	}

	policy := t.cfg.Policies.Get(t.worker)
	verdict := security.Validate(command, policy)
	if !verdict.Safe {
		rejection := &errs.PolicyRejectedError{
			Command:    command,
			Program:    verdict.Program,
			Reason:     verdict.Reason,
			Suggestion: verdict.Suggestion,
		}
		t.cfg.Logger.Warn("shell command denied for %s: %s", t.worker, verdict.Reason)
		return failure("%v", rejection)
	}

	runCtx := ctx
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	if t.cfg.WorkspaceRoot != "" {
		cmd.Dir = t.cfg.WorkspaceRoot
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return failure("command timeout after %s", t.cfg.Timeout)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	payload := map[string]any{
		"command":   command,
		"stdout":    stdoutBuf.String(),
		"stderr":    stderrBuf.String(),
		"exit_code": exitCode,
	}
	contentBytes, err := json.Marshal(payload)
	if err != nil {
		// Fall back to plain text output if JSON marshalling fails.
		plain := strings.TrimSpace(stdoutBuf.String())
		if plain == "" {
			plain = strings.TrimSpace(stderrBuf.String())
		}
		contentBytes = []byte(plain)
	}

	result := ports.ToolExecutionResult{
		Success: runErr == nil,
		Output:  string(contentBytes),
		Metadata: map[string]any{
			"command":      command,
			"exit_code":    exitCode,
			"stdout_bytes": stdoutBuf.Len(),
			"stderr_bytes": stderrBuf.Len(),
			"stdout_lines": countLines(stdoutBuf.String()),
			"stderr_lines": countLines(stderrBuf.String()),
		},
	}
	if runErr != nil {
		result.Error = runErr.Error()
		if stderr := strings.TrimSpace(stderrBuf.String()); stderr != "" {
			result.Error = runErr.Error() + ": " + stderr
		}
	}
	return result
}

func (t *shell) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "shell",
		Description: "Execute a shell command inside the workspace. Commands are checked against the worker's security policy first.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"command": {Type: "string", Description: "Shell command"},
			},
			Required: []string{"command"},
		},
	}
}

func (t *shell) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "shell", Version: "1.0.0", Category: "execution", Dangerous: true,
	}
}
