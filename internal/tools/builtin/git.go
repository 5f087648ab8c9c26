package builtin

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"foreman/internal/agent/ports"
	"foreman/internal/logging"
)

// gitSubcommands is the closed set of allowed git operations. The adapter
// execs git directly with an argument vector, so no shell is involved and
// the command validator does not apply.
var gitSubcommands = map[string]struct{}{
	"status": {}, "log": {}, "diff": {}, "show": {}, "add": {}, "commit": {},
	"branch": {}, "checkout": {}, "stash": {}, "pull": {}, "push": {},
	"rev-parse": {}, "remote": {}, "restore": {},
}

type git struct {
	root   string
	logger logging.Logger
}

// NewGit runs allowlisted git subcommands in the workspace.
func NewGit(root string, logger logging.Logger) ports.Tool {
	return &git{root: root, logger: logging.OrNop(logger)}
}

func (t *git) Execute(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
	sub := req.StringInput("subcommand")
	if sub == "" {
		return failure("missing 'subcommand'")
	}
	if _, ok := gitSubcommands[sub]; !ok {
		return failure("git subcommand %q is not allowed", sub)
	}

	argv := []string{sub}
	if args := req.StringInput("args"); args != "" {
		argv = append(argv, strings.Fields(args)...)
	}
	if message := req.StringInput("message"); message != "" && sub == "commit" {
		argv = append(argv, "-m", message)
	}

	cmd := exec.CommandContext(ctx, "git", argv...)
	if t.root != "" {
		cmd.Dir = t.root
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	output := strings.TrimSpace(stdoutBuf.String())
	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		stderr := strings.TrimSpace(stderrBuf.String())
		msg := runErr.Error()
		if stderr != "" {
			msg = stderr
		}
		t.logger.Debug("git %s failed (exit %d): %s", sub, exitCode, msg)
		return ports.ToolExecutionResult{
			Success:  false,
			Output:   output,
			Error:    "git " + sub + ": " + msg,
			Metadata: map[string]any{"exit_code": exitCode},
		}
	}

	return successMeta(output, map[string]any{"subcommand": sub})
}

func (t *git) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "git",
		Description: "Run a git subcommand (status, log, diff, add, commit, branch, checkout, stash, pull, push, ...)",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"subcommand": {Type: "string", Description: "Git subcommand"},
				"args":       {Type: "string", Description: "Additional arguments, whitespace separated"},
				"message":    {Type: "string", Description: "Commit message, used with the commit subcommand"},
			},
			Required: []string{"subcommand"},
		},
	}
}

func (t *git) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "git", Version: "1.0.0", Category: "version_control",
	}
}
