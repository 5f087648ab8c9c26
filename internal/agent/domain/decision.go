// Package domain holds the routing and worker-runtime logic of the engine:
// the decision engine that picks delegate/decompose/direct for a request, and
// the worker loop that drives a role through completions and tool calls.
package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/attribute"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/logging"
	"foreman/internal/observability"
)

// errorSignatures match messages that are clearly pasted failure output. Such
// requests route straight to the fixer without a completion call, so the same
// input always produces the same decision.
var errorSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^panic:`),
	regexp.MustCompile(`goroutine \d+ \[running\]`),
	regexp.MustCompile(`(?i)\berror:\s*\S+\.\w+:\d+`),
	regexp.MustCompile(`Traceback \(most recent call last\)`),
	regexp.MustCompile(`(?i)\bexception\b`),
	regexp.MustCompile(`❌`),
}

const routingPrompt = `You are a task router for a team of software workers:
explorer (reads code and the web), coder (writes code), builder (builds and compiles),
tester (runs tests), reviewer (reviews code), fixer (repairs defects), deployer (ships).

Reply with exactly one JSON object, no prose:
  {"action": "direct", "reasoning": "..."}   (answer yourself)
  {"action": "delegate", "target_agent": "<worker>", "reasoning": "..."}
  {"action": "decompose", "subtasks": [{"agent": "<worker>", "task": "...", "depends_on": [0]}], "reasoning": "..."}
depends_on holds indices of earlier subtasks only.`

// DecisionEngine routes a request to an execution shape.
type DecisionEngine struct {
	completion ports.CompletionService
	tracer     *observability.TracerProvider
	metrics    *observability.Metrics
	logger     logging.Logger
}

// NewDecisionEngine builds a DecisionEngine.
func NewDecisionEngine(completion ports.CompletionService, tracer *observability.TracerProvider, metrics *observability.Metrics, logger logging.Logger) *DecisionEngine {
	return &DecisionEngine{
		completion: completion,
		tracer:     tracer,
		metrics:    metrics,
		logger:     logging.OrNop(logger),
	}
}

// Decide routes one request. Any failure comes back as *errs.DecisionError;
// there is no fallback decision.
func (e *DecisionEngine) Decide(ctx context.Context, userMessage, fileSummary string) (ports.Decision, error) {
	ctx, span := e.tracer.Start(ctx, observability.SpanDecide)
	defer span.End()

	if looksLikeFailureOutput(userMessage) {
		decision := ports.Decision{
			Kind:        ports.DecideDelegate,
			TargetAgent: ports.WorkerFixer,
			Reasoning:   "request contains failure output",
		}
		e.metrics.RecordDecision(string(decision.Kind))
		span.SetAttributes(attribute.String(observability.AttrDecision, string(decision.Kind)))
		return decision, nil
	}

	input := userMessage
	if fileSummary != "" {
		input = fmt.Sprintf("%s\n\nWorkspace files:\n%s", userMessage, fileSummary)
	}
	resp, err := e.completion.Complete(ctx, ports.CompletionRequest{
		SystemPrompt: routingPrompt,
		Messages:     []ports.Message{{Role: ports.RoleUser, Content: input}},
		Temperature:  0.1,
	})
	if err != nil {
		return ports.Decision{}, &errs.DecisionError{Err: err}
	}

	decision, err := parseDecision(resp.Content)
	if err != nil {
		e.logger.Warn("unparseable routing reply: %v", err)
		return ports.Decision{}, &errs.DecisionError{Err: err}
	}
	if err := decision.Validate(); err != nil {
		return ports.Decision{}, &errs.DecisionError{Err: err}
	}

	e.metrics.RecordDecision(string(decision.Kind))
	span.SetAttributes(attribute.String(observability.AttrDecision, string(decision.Kind)))
	return decision, nil
}

func looksLikeFailureOutput(message string) bool {
	for _, re := range errorSignatures {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// parseDecision extracts and unmarshals the routing JSON. Models wrap the
// object in fences or leave trailing commas; jsonrepair handles what
// encoding/json rejects.
func parseDecision(reply string) (ports.Decision, error) {
	block := extractJSONBlock(reply)
	if block == "" {
		return ports.Decision{}, fmt.Errorf("no JSON object in routing reply")
	}

	var decision ports.Decision
	if err := json.Unmarshal([]byte(block), &decision); err == nil {
		return decision, nil
	}

	repaired, err := jsonrepair.JSONRepair(block)
	if err != nil {
		return ports.Decision{}, fmt.Errorf("repair routing JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &decision); err != nil {
		return ports.Decision{}, fmt.Errorf("unmarshal repaired routing JSON: %w", err)
	}
	return decision, nil
}

// extractJSONBlock returns the outermost {...} span of a reply, stripping any
// surrounding prose or code fences.
func extractJSONBlock(reply string) string {
	s := strings.TrimSpace(reply)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
