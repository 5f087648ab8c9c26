package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/attribute"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/executor"
	"foreman/internal/logging"
	"foreman/internal/observability"
	"foreman/internal/token"
)

// WorkerOptions wires one worker runtime.
type WorkerOptions struct {
	Completion ports.CompletionService
	Executor   *executor.Executor
	Tools      []ports.ToolDefinition
	Sink       ports.StatusSink
	Tracer     *observability.TracerProvider
	Logger     logging.Logger

	MaxIterations int
	TokenBudget   int
	MaxTokens     int
	Control       executor.ControlMode
}

// Worker drives one role through a bounded completion loop: think, call
// tools, fold results back into the conversation, repeat until the reply
// carries no tool calls or the iteration budget runs out.
type Worker struct {
	role       string
	completion ports.CompletionService
	executor   *executor.Executor
	system     string
	sink       ports.StatusSink
	tracer     *observability.TracerProvider
	logger     logging.Logger

	maxIterations int
	tokenBudget   int
	maxTokens     int
	control       executor.ControlMode
}

// NewWorker builds a Worker for a role.
func NewWorker(role string, opts WorkerOptions) *Worker {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 6
	}
	tokenBudget := opts.TokenBudget
	if tokenBudget <= 0 {
		tokenBudget = 8192
	}
	return &Worker{
		role:          role,
		completion:    opts.Completion,
		executor:      opts.Executor,
		system:        systemPrompt(role, opts.Tools),
		sink:          ports.SinkOrNop(opts.Sink),
		tracer:        opts.Tracer,
		logger:        logging.OrNop(opts.Logger),
		maxIterations: maxIterations,
		tokenBudget:   tokenBudget,
		maxTokens:     opts.MaxTokens,
		control:       opts.Control,
	}
}

// Role returns the worker's role name.
func (w *Worker) Role() string { return w.role }

// Run executes one task to completion. The result is always populated; a
// completion failure mid-loop surfaces as Success=false with the error text.
func (w *Worker) Run(ctx context.Context, task *ports.Task) ports.TaskResult {
	ctx, span := w.tracer.Start(ctx, observability.SpanWorkerRun,
		attribute.String(observability.AttrWorkerID, w.role))
	defer span.End()

	start := time.Now()
	result := ports.TaskResult{TaskID: task.ID, Worker: w.role}

	w.executor.StartTask(w.role, task)
	defer func() {
		result.Duration = time.Since(start)
		w.executor.CompleteTask(w.role, result)
	}()

	convo := []ports.Message{{Role: ports.RoleUser, Content: task.Prompt}}
	lastContent := ""

	for iter := 1; iter <= w.maxIterations; iter++ {
		result.Iterations = iter
		convo = trimToBudget(convo, w.tokenBudget)

		w.sink.OnStatus(w.role, ports.StatusThinking)
		resp, err := w.completion.CompleteStream(ctx, ports.CompletionRequest{
			SystemPrompt: w.system,
			Messages:     convo,
			MaxTokens:    w.maxTokens,
		}, func(chunk string) {
			w.sink.OnChunk(w.role, chunk)
		})
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			result.Output = lastContent
			return result
		}
		result.TokensUsed += resp.Usage.TotalTokens
		lastContent = resp.Content

		calls, parallel, ok := parseToolCalls(resp.Content)
		if !ok {
			result.Success = true
			result.Output = resp.Content
			return result
		}

		w.sink.OnStatus(w.role, ports.StatusExecuting)
		mode := ports.ExecutionSequential
		if parallel {
			mode = ports.ExecutionParallel
		}
		outcomes := w.executor.ExecuteToolBatch(ctx, w.role, calls, executor.BatchOptions{
			Mode:    mode,
			Control: w.control,
		})

		convo = append(convo,
			ports.Message{Role: ports.RoleAssistant, Content: resp.Content},
			ports.Message{Role: ports.RoleTool, Content: renderOutcomes(calls, outcomes)},
		)
	}

	w.logger.Warn("%s exhausted %d iterations for task %s", w.role, w.maxIterations, task.ID)
	result.Success = true
	result.Output = lastContent
	return result
}

// toolCallEnvelope is the JSON shape a worker reply uses to request tools.
type toolCallEnvelope struct {
	ToolCalls []ports.ToolCallRequest `json:"tool_calls"`
	Parallel  bool                    `json:"parallel,omitempty"`
}

// parseToolCalls extracts a tool-call envelope from a reply. A reply without
// one is a final answer.
func parseToolCalls(reply string) ([]ports.ToolCallRequest, bool, bool) {
	block := extractJSONBlock(reply)
	if block == "" || !strings.Contains(block, "tool_calls") {
		return nil, false, false
	}

	var env toolCallEnvelope
	if err := json.Unmarshal([]byte(block), &env); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(block)
		if repairErr != nil {
			return nil, false, false
		}
		if err := json.Unmarshal([]byte(repaired), &env); err != nil {
			return nil, false, false
		}
	}
	if len(env.ToolCalls) == 0 {
		return nil, false, false
	}
	return env.ToolCalls, env.Parallel, true
}

// renderOutcomes serializes batch results for the conversation. Keys follow
// the batch result map (call ID, else tool name). Failure text is rephrased
// into something the model can act on.
func renderOutcomes(calls []ports.ToolCallRequest, outcomes map[string]ports.ToolExecutionResult) string {
	var sb strings.Builder
	for _, call := range calls {
		res, ok := outcomes[call.Key()]
		if !ok {
			// Halted sequential batch: everything after the blocking error.
			fmt.Fprintf(&sb, "[%s] not executed (batch halted)\n", call.Key())
			continue
		}
		if !res.Success && res.Error != "" {
			res.Error = errs.FormatForLLM(errors.New(res.Error))
		}
		payload, err := json.Marshal(res)
		if err != nil {
			fmt.Fprintf(&sb, "[%s] unserializable result\n", call.Key())
			continue
		}
		fmt.Fprintf(&sb, "[%s] %s\n", call.Key(), payload)
	}
	return sb.String()
}

// trimToBudget drops the oldest exchanges until the conversation fits the
// token budget. The first (task) and last messages always survive.
func trimToBudget(convo []ports.Message, budget int) []ports.Message {
	for len(convo) > 2 {
		total := 0
		for _, m := range convo {
			total += token.Count(m.Content)
		}
		if total <= budget {
			break
		}
		// Drop the oldest message after the task prompt.
		convo = append(convo[:1], convo[2:]...)
	}
	if len(convo) <= 2 {
		if last := len(convo) - 1; last >= 0 && token.Count(convo[last].Content) > budget {
			convo[last].Content = token.Truncate(convo[last].Content, budget)
		}
	}
	return convo
}
