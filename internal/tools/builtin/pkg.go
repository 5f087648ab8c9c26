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

// packageManagers maps each supported manager to its allowed actions. The
// adapter execs the manager directly with an argument vector.
var packageManagers = map[string]map[string]struct{}{
	"npm":   {"install": {}, "ci": {}, "run": {}, "test": {}, "audit": {}},
	"yarn":  {"install": {}, "add": {}, "run": {}, "test": {}},
	"pnpm":  {"install": {}, "add": {}, "run": {}, "test": {}},
	"pip":   {"install": {}, "list": {}, "show": {}},
	"pip3":  {"install": {}, "list": {}, "show": {}},
	"go":    {"build": {}, "test": {}, "vet": {}, "mod": {}, "get": {}, "run": {}},
	"cargo": {"build": {}, "test": {}, "check": {}, "add": {}, "run": {}},
}

type packageManager struct {
	root   string
	logger logging.Logger
}

// NewPackageManager runs allowlisted package-manager actions in the
// workspace.
func NewPackageManager(root string, logger logging.Logger) ports.Tool {
	return &packageManager{root: root, logger: logging.OrNop(logger)}
}

func (t *packageManager) Execute(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
	manager := req.StringInput("manager")
	action := req.StringInput("action")
	if manager == "" || action == "" {
		return failure("missing 'manager' or 'action'")
	}

	actions, ok := packageManagers[manager]
	if !ok {
		return failure("package manager %q is not supported", manager)
	}
	if _, ok := actions[action]; !ok {
		return failure("action %q is not allowed for %s", action, manager)
	}

	argv := []string{action}
	if args := req.StringInput("args"); args != "" {
		argv = append(argv, strings.Fields(args)...)
	}

	cmd := exec.CommandContext(ctx, manager, argv...)
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
		t.logger.Debug("%s %s failed (exit %d)", manager, action, exitCode)
		return ports.ToolExecutionResult{
			Success:  false,
			Output:   output,
			Error:    manager + " " + action + ": " + msg,
			Metadata: map[string]any{"exit_code": exitCode},
		}
	}

	return successMeta(output, map[string]any{"manager": manager, "action": action})
}

func (t *packageManager) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "package",
		Description: "Run a package manager or build tool action (npm, yarn, pnpm, pip, go, cargo)",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"manager": {Type: "string", Description: "Package manager", Enum: []any{"npm", "yarn", "pnpm", "pip", "pip3", "go", "cargo"}},
				"action":  {Type: "string", Description: "Action such as install, build, test"},
				"args":    {Type: "string", Description: "Additional arguments, whitespace separated"},
			},
			Required: []string{"manager", "action"},
		},
	}
}

func (t *packageManager) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "package", Version: "1.0.0", Category: "package_manager",
	}
}
