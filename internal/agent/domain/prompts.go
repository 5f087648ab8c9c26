package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"foreman/internal/agent/ports"
)

// rolePrompts define each worker's charter. The tool-call protocol is
// appended at runtime together with the tool schemas the worker may use.
var rolePrompts = map[string]string{
	ports.WorkerExplorer: `You are the explorer. Investigate the codebase and, when needed, the web.
Read before you conclude; cite the files you looked at.`,
	ports.WorkerCoder: `You are the coder. Implement the requested change as working code.
Write complete files, not fragments. Match the style of the surrounding code.`,
	ports.WorkerBuilder: `You are the builder. Compile and assemble the project and report the outcome.
Surface the exact build output when something fails.`,
	ports.WorkerTester: `You are the tester. Exercise the code and report findings as a list,
annotating each line with ✅ / ⚠️ / ❌.`,
	ports.WorkerReviewer: `You are the reviewer. Review the change for correctness, clarity, and safety.
Report findings as a list annotated ✅ / ⚠️ / ❌.`,
	ports.WorkerFixer: `You are the fixer. Diagnose the reported failure and repair it.
Emit the complete corrected artifact.`,
	ports.WorkerDeployer: `You are the deployer. Prepare and execute the rollout steps.
Stop and report at the first irreversible step that fails.`,
}

const toolProtocol = `To use tools, reply with exactly one JSON object and nothing else:
  {"tool_calls": [{"name": "<tool>", "input": {...}, "call_id": "c1"}], "parallel": false}
Results come back as a tool message. When no tool is needed, reply with your final answer as plain text.`

// systemPrompt renders the full system prompt for a role: charter, protocol,
// and available tool schemas.
func systemPrompt(role string, tools []ports.ToolDefinition) string {
	charter, ok := rolePrompts[role]
	if !ok {
		charter = fmt.Sprintf("You are the %s.", role)
	}
	var sb strings.Builder
	sb.WriteString(charter)
	sb.WriteString("\n\n")
	sb.WriteString(toolProtocol)
	if len(tools) > 0 {
		sb.WriteString("\n\nAvailable tools:\n")
		for _, def := range tools {
			schema, _ := json.Marshal(def.Parameters)
			fmt.Fprintf(&sb, "- %s: %s %s\n", def.Name, def.Description, schema)
		}
	}
	return sb.String()
}
