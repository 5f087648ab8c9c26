// Package executor dispatches tool calls on behalf of workers. It resolves
// adapters through a per-worker cache, bounds each call with the stage
// supervisor, normalizes panics into failure results, and runs batches in
// sequential mode (halting on blocking errors) or parallel mode (every
// request yields a result). Mutating batches pass through the approval
// workflow before anything executes.
package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/logging"
	"foreman/internal/observability"
	"foreman/internal/security"
	"foreman/internal/supervise"
	"foreman/internal/tools"
)

// ControlMode governs when a batch needs human confirmation.
type ControlMode string

const (
	// ControlAuto confirms only batches containing dangerous actions.
	ControlAuto ControlMode = "auto"

	// ControlManual confirms every mutating batch.
	ControlManual ControlMode = "manual"
)

// Config bounds dispatch and lifecycle behavior. Zero values fall back to
// defaults.
type Config struct {
	ToolMaxConcurrent int
	StatusResetDelay  time.Duration
	ApprovalTimeout   time.Duration
	AdapterCacheSize  int
}

func (c *Config) normalize() {
	if c.ToolMaxConcurrent <= 0 {
		c.ToolMaxConcurrent = 8
	}
	if c.StatusResetDelay <= 0 {
		c.StatusResetDelay = 3 * time.Second
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 120 * time.Second
	}
	if c.AdapterCacheSize <= 0 {
		c.AdapterCacheSize = 64
	}
}

// Options wires the executor's collaborators.
type Options struct {
	Registry   *tools.Registry
	Supervisor *supervise.Supervisor
	Policies   *security.PolicyRegistry
	Approver   ports.ApprovalHandler
	Sink       ports.StatusSink
	Listener   ports.EventListener
	Metrics    *observability.Metrics
	Logger     logging.Logger
	Config     Config
}

// Executor is the tool execution dispatcher. One instance serves every worker
// in an orchestration run; per-worker state (adapters, lifecycle, policies)
// lives in registries owned by the instance, torn down by Reset.
type Executor struct {
	registry   *tools.Registry
	supervisor *supervise.Supervisor
	policies   *security.PolicyRegistry
	approver   ports.ApprovalHandler
	sink       ports.StatusSink
	listener   ports.EventListener
	metrics    *observability.Metrics
	logger     logging.Logger
	cfg        Config

	cache     *adapterCache
	lifecycle *lifecycleTable
}

// New builds an Executor.
func New(opts Options) *Executor {
	opts.Config.normalize()
	if opts.Policies == nil {
		opts.Policies = security.NewPolicyRegistry()
	}
	logger := logging.OrNop(opts.Logger)
	e := &Executor{
		registry:   opts.Registry,
		supervisor: opts.Supervisor,
		policies:   opts.Policies,
		approver:   opts.Approver,
		sink:       ports.SinkOrNop(opts.Sink),
		listener:   opts.Listener,
		metrics:    opts.Metrics,
		logger:     logger,
		cfg:        opts.Config,
	}
	e.cache = newAdapterCache(opts.Registry, opts.Config.AdapterCacheSize)
	e.lifecycle = newLifecycleTable(e.sink, opts.Config.StatusResetDelay)
	return e
}

// Policies exposes the per-worker policy registry owned by this executor.
func (e *Executor) Policies() *security.PolicyRegistry { return e.policies }

// Reset tears down all per-worker state: cached adapters, lifecycle entries,
// and policy overrides.
func (e *Executor) Reset() {
	e.cache.Purge()
	e.lifecycle.Reset()
	e.policies.Reset()
}

// ExecuteTool runs a single tool call for a worker. Failures never surface as
// Go errors; every outcome is a ToolExecutionResult with ExecutionTime
// stamped.
func (e *Executor) ExecuteTool(ctx context.Context, workerID string, req ports.ToolCallRequest) ports.ToolExecutionResult {
	start := time.Now()

	tool, err := e.cache.Resolve(workerID, req.Name)
	if err != nil {
		result := ports.ToolExecutionResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}
		e.finish(workerID, req, result)
		return result
	}

	result, err := supervise.RunResult(ctx, e.supervisor, workerID, func(ctx context.Context) (ports.ToolExecutionResult, error) {
		return e.runGuarded(ctx, tool, req), nil
	})
	if err != nil {
		// Stage timeout or parent cancellation; the abandoned call may still
		// be unwinding in the background.
		result = ports.ToolExecutionResult{Success: false, Error: err.Error()}
	}

	result.ExecutionTime = time.Since(start)
	e.finish(workerID, req, result)
	return result
}

// runGuarded executes the tool and converts panics into failure results. A
// panic with a non-error value never leaks its representation.
func (e *Executor) runGuarded(ctx context.Context, tool ports.Tool, req ports.ToolCallRequest) (result ports.ToolExecutionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("tool %s panicked: %v", req.Name, rec)
			if err, ok := rec.(error); ok {
				result = ports.ToolExecutionResult{Success: false, Error: err.Error()}
				return
			}
			result = ports.ToolExecutionResult{Success: false, Error: "Unknown error"}
		}
	}()
	return tool.Execute(ctx, req)
}

// BatchOptions selects dispatch mode and approval gating for one batch. The
// zero value means sequential dispatch under automatic control.
type BatchOptions struct {
	Mode    ports.ExecutionMode
	Control ControlMode
}

// ExecuteToolBatch runs a batch of tool calls. Keys in the result map are the
// request CallID when present, otherwise the tool name.
//
// Sequential mode executes in array order and halts on the first blocking
// error; requests after the halt are absent from the map. Parallel mode runs
// everything concurrently and always yields exactly one result per request.
func (e *Executor) ExecuteToolBatch(ctx context.Context, workerID string, reqs []ports.ToolCallRequest, opts BatchOptions) map[string]ports.ToolExecutionResult {
	results := make(map[string]ports.ToolExecutionResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	if rejected, ok := e.confirmBatch(ctx, workerID, reqs, opts.Control); !ok {
		return rejected
	}

	if opts.Mode == ports.ExecutionParallel {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.ToolMaxConcurrent)
		for _, req := range reqs {
			req := req
			g.Go(func() error {
				res := e.ExecuteTool(gctx, workerID, req)
				mu.Lock()
				results[req.Key()] = res
				mu.Unlock()
				// Errors are carried in the result; never short-circuit the
				// group.
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	for _, req := range reqs {
		res := e.ExecuteTool(ctx, workerID, req)
		results[req.Key()] = res
		if !res.Success && errs.IsBlocking(res.Error) {
			e.logger.Warn("batch for %s halted at %s: %s", workerID, req.Name, res.Error)
			break
		}
	}
	return results
}

func (e *Executor) finish(workerID string, req ports.ToolCallRequest, result ports.ToolExecutionResult) {
	e.metrics.RecordTool(workerID, req.Name, result.Success, result.ExecutionTime)
	if e.listener != nil {
		e.listener.OnEvent(ports.NewToolEvent(workerID, req, result))
	}
	if result.Success {
		e.logger.Debug("%s ran %s in %s", workerID, req.Name, result.ExecutionTime)
	} else {
		e.logger.Debug("%s failed %s in %s: %s", workerID, req.Name, result.ExecutionTime, result.Error)
	}
}
