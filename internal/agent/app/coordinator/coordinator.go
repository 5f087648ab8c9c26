// Package coordinator drives one orchestration request end to end: route the
// request, run the chosen workers, pass their output through quality or
// verification, and stream events back to the caller. One Coordinator serves
// many requests; each request gets its own event stream.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"foreman/internal/agent/domain"
	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/executor"
	"foreman/internal/logging"
	"foreman/internal/observability"
	"foreman/internal/quality"
	"foreman/internal/recall"
	"foreman/internal/supervise"
	"foreman/internal/verify"
)

// Request is one orchestration request. Mode selects a worker directly when
// it names one; "auto" (or empty) lets the decision engine route. ControlMode
// is "auto" or "manual" per the approval workflow.
type Request struct {
	Messages    []ports.Message `json:"messages"`
	Files       []string        `json:"files,omitempty"`
	Mode        string          `json:"mode,omitempty"`
	ControlMode string          `json:"controlMode,omitempty"`
}

// WorkerFactory builds a worker runtime for a role, wired to the given sink
// and control mode.
type WorkerFactory func(role string, control executor.ControlMode, sink ports.StatusSink) *domain.Worker

// Options wires the coordinator's collaborators.
type Options struct {
	Decision   *domain.DecisionEngine
	Completion ports.CompletionService
	Workers    WorkerFactory
	Pipeline   *quality.Pipeline
	Verify     *verify.Loop
	Supervisor *supervise.Supervisor
	Recall     *recall.Store
	Listener   ports.EventListener
	Metrics    *observability.Metrics
	Logger     logging.Logger

	VerifyOptions verify.Options
}

// Coordinator orchestrates requests.
type Coordinator struct {
	opts   Options
	logger logging.Logger
}

// New builds a Coordinator.
func New(opts Options) *Coordinator {
	if opts.VerifyOptions.MaxRetries <= 0 {
		opts.VerifyOptions = verify.DefaultOptions()
	}
	return &Coordinator{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Handle processes one request. The returned channel carries the event stream
// and is closed after a DoneEvent or ErrorEvent. The error return covers
// request validation only; processing failures arrive on the stream.
func (c *Coordinator) Handle(ctx context.Context, req Request) (<-chan ports.Event, error) {
	prompt := lastUserMessage(req.Messages)
	if prompt == "" {
		return nil, fmt.Errorf("request has no user message")
	}

	events := make(chan ports.Event, 64)
	go c.process(ctx, req, prompt, events)
	return events, nil
}

func (c *Coordinator) process(ctx context.Context, req Request, prompt string, events chan<- ports.Event) {
	// An abandoned stage keeps its goroutine; its late emissions must land
	// nowhere once the stream has closed.
	var emitMu sync.Mutex
	streamClosed := false
	defer func() {
		emitMu.Lock()
		streamClosed = true
		emitMu.Unlock()
		close(events)
	}()

	c.opts.Metrics.RequestStarted()
	defer c.opts.Metrics.RequestFinished()

	gctx, cancel := c.opts.Supervisor.Global(ctx)
	defer cancel()

	emit := func(ev ports.Event) {
		if c.opts.Listener != nil {
			c.opts.Listener.OnEvent(ev)
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		if streamClosed {
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	fail := func(err error) {
		c.logger.Error("request failed: %v", err)
		emit(ports.NewErrorEvent("", errs.Sanitize(err)))
	}

	decision, err := c.route(gctx, req, prompt)
	if err != nil {
		fail(c.normalizeTimeout(gctx, err))
		return
	}

	sink := &eventSink{emit: emit}
	control := executor.ControlMode(req.ControlMode)
	if control == "" {
		control = executor.ControlAuto
	}

	var output string
	var totalErrors, totalWarnings int
	recordWorker := ""

	switch decision.Kind {
	case ports.DecideDirect:
		output, err = c.answerDirect(gctx, prompt, emit)
		if err != nil {
			fail(c.normalizeTimeout(gctx, err))
			return
		}

	case ports.DecideDelegate:
		res := c.runStage(gctx, decision.TargetAgent, prompt, control, sink, emit)
		output = res.output
		totalErrors += res.errors
		totalWarnings += res.warnings
		recordWorker = decision.TargetAgent

	case ports.DecideDecompose:
		outputs := make([]string, len(decision.Subtasks))
		for i, st := range decision.Subtasks {
			taskPrompt := st.Task
			if deps := dependencyContext(st, outputs); deps != "" {
				taskPrompt += "\n\n" + deps
			}
			res := c.runStage(gctx, st.Agent, taskPrompt, control, sink, emit)
			outputs[i] = res.output
			totalErrors += res.errors
			totalWarnings += res.warnings
		}
		output = strings.Join(nonEmpty(outputs), "\n\n")
		recordWorker = "decompose"
	}

	summary := ports.FormatCounts(totalErrors, totalWarnings)
	emit(ports.NewSummaryEvent(output, totalErrors, totalWarnings))
	emit(ports.NewDoneEvent())

	c.remember(prompt, recordWorker, summary)
}

// route picks the execution shape: an explicit worker mode short-circuits the
// decision engine.
func (c *Coordinator) route(ctx context.Context, req Request, prompt string) (ports.Decision, error) {
	if ports.KnownWorker(req.Mode) {
		return ports.Decision{
			Kind:        ports.DecideDelegate,
			TargetAgent: req.Mode,
			Reasoning:   "worker selected by request",
		}, nil
	}

	summary := strings.Join(req.Files, "\n")
	if c.opts.Recall != nil {
		if entries, err := c.opts.Recall.Similar(ctx, prompt); err == nil && len(entries) > 0 {
			if summary != "" {
				summary += "\n\n"
			}
			summary += recall.Render(entries)
		}
	}
	return c.opts.Decision.Decide(ctx, prompt, summary)
}

// answerDirect streams the reply for a direct answer. The completion runs
// under the fallback stage deadline; "direct" names no worker type.
func (c *Coordinator) answerDirect(ctx context.Context, prompt string, emit func(ports.Event)) (string, error) {
	return supervise.RunResult(ctx, c.opts.Supervisor, "direct", func(ctx context.Context) (string, error) {
		resp, err := c.opts.Completion.CompleteStream(ctx, ports.CompletionRequest{
			Messages: []ports.Message{{Role: ports.RoleUser, Content: prompt}},
		}, func(chunk string) {
			emit(ports.NewChunkEvent("", chunk))
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

type stageResult struct {
	output   string
	errors   int
	warnings int
}

// runStage executes one worker under its stage deadline and applies the
// matching post-processing: quality pipeline for code-producing workers,
// detection + verification for everything else. Worker failure and stage
// timeout are absorbed into the error count so the rest of the request can
// proceed.
func (c *Coordinator) runStage(ctx context.Context, role, prompt string, control executor.ControlMode, sink ports.StatusSink, emit func(ports.Event)) stageResult {
	worker := c.opts.Workers(role, control, sink)
	task := &ports.Task{
		ID:        uuid.NewString(),
		Type:      role,
		Prompt:    prompt,
		Status:    ports.TaskPending,
		CreatedAt: time.Now(),
	}

	res, err := supervise.RunResult(ctx, c.opts.Supervisor, role, func(ctx context.Context) (ports.TaskResult, error) {
		return worker.Run(ctx, task), nil
	})
	if err != nil {
		c.logger.Warn("%s abandoned task %s: %v", role, task.ID, err)
		emit(ports.NewErrorEvent(role, errs.Sanitize(err)))
		return stageResult{errors: 1}
	}
	if !res.Success {
		c.logger.Warn("%s failed task %s: %s", role, task.ID, res.Error)
		emit(ports.NewErrorEvent(role, errs.Sanitize(errors.New(res.Error))))
		return stageResult{output: res.Output, errors: 1}
	}

	if ports.CodeProducing(role) {
		report, err := c.opts.Pipeline.Run(ctx, role, res.Output, nil)
		if err != nil {
			c.logger.Warn("quality pipeline failed for %s: %v", role, err)
			return stageResult{output: res.Output}
		}
		return stageResult{output: report.Artifact, errors: report.Errors(), warnings: report.Warnings()}
	}

	vres := c.opts.Verify.Run(ctx, role, res.Output, nil, c.opts.VerifyOptions)
	out := vres.Artifact
	if out == "" {
		out = res.Output
	}
	return stageResult{output: out, errors: len(vres.FinalErrors)}
}

func (c *Coordinator) remember(prompt, worker, summary string) {
	if c.opts.Recall == nil || worker == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.opts.Recall.Record(ctx, recall.Entry{Prompt: prompt, Worker: worker, Summary: summary}); err != nil {
		c.logger.Warn("recall record failed: %v", err)
	}
}

// normalizeTimeout maps a global deadline expiry to its typed error so the
// user sees one consistent message.
func (c *Coordinator) normalizeTimeout(gctx context.Context, err error) error {
	if errors.Is(gctx.Err(), context.DeadlineExceeded) {
		return &errs.GlobalTimeoutError{Timeout: c.opts.Supervisor.GlobalTimeout()}
	}
	return err
}

// eventSink adapts worker status/chunk callbacks into stream events.
type eventSink struct {
	emit func(ports.Event)
}

func (s *eventSink) OnStatus(worker string, status ports.WorkerStatus) {
	s.emit(ports.NewStatusEvent(worker, status))
}

func (s *eventSink) OnChunk(worker, text string) {
	s.emit(ports.NewChunkEvent(worker, text))
}

func lastUserMessage(messages []ports.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ports.RoleUser && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}

func dependencyContext(st ports.Subtask, outputs []string) string {
	var parts []string
	for _, dep := range st.DependsOn {
		if dep >= 0 && dep < len(outputs) && outputs[dep] != "" {
			parts = append(parts, fmt.Sprintf("Output of step %d:\n%s", dep+1, outputs[dep]))
		}
	}
	return strings.Join(parts, "\n\n")
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
