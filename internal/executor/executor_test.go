package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"foreman/internal/agent/ports"
	"foreman/internal/supervise"
	"foreman/internal/tools"
)

type fakeTool struct {
	name string
	fn   func(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult
}

func (f *fakeTool) Execute(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
	return f.fn(ctx, req)
}

func (f *fakeTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{Name: f.name}
}

func (f *fakeTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: f.name}
}

// bindingTool counts BindWorker calls so tests can observe adapter reuse.
type bindingTool struct {
	fakeTool
	binds atomic.Int32
}

func (b *bindingTool) BindWorker(worker string) ports.Tool {
	b.binds.Add(1)
	return &b.fakeTool
}

type approverFunc func(ctx context.Context, batch ports.PendingActionBatch) (ports.ApprovalDecision, error)

func (f approverFunc) RequestApproval(ctx context.Context, batch ports.PendingActionBatch) (ports.ApprovalDecision, error) {
	return f(ctx, batch)
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []ports.WorkerStatus
}

func (r *statusRecorder) OnStatus(worker string, status ports.WorkerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) OnChunk(worker, chunk string) {}

func okTool(name, output string) *fakeTool {
	return &fakeTool{name: name, fn: func(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
		return ports.ToolExecutionResult{Success: true, Output: output}
	}}
}

func failTool(name, msg string) *fakeTool {
	return &fakeTool{name: name, fn: func(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
		return ports.ToolExecutionResult{Success: false, Error: msg}
	}}
}

func newTestExecutor(t *testing.T, mutate func(*Options)) (*Executor, *tools.Registry, string) {
	t.Helper()
	root := t.TempDir()
	reg := tools.NewRegistry(tools.Options{WorkspaceRoot: root})
	opts := Options{
		Registry:   reg,
		Supervisor: supervise.New(supervise.Config{}, nil),
		Config:     Config{StatusResetDelay: 20 * time.Millisecond},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), reg, root
}

func TestExecuteToolStampsExecutionTime(t *testing.T) {
	e, reg, _ := newTestExecutor(t, nil)
	require.NoError(t, reg.Register(okTool("echo", "ok")))

	res := e.ExecuteTool(context.Background(), ports.WorkerCoder, ports.ToolCallRequest{Name: "echo"})
	require.True(t, res.Success)
	require.Equal(t, "ok", res.Output)
	if res.ExecutionTime <= 0 {
		t.Fatalf("expected positive execution time, got %v", res.ExecutionTime)
	}
}

func TestExecuteToolUnknownTool(t *testing.T) {
	e, _, _ := newTestExecutor(t, nil)

	res := e.ExecuteTool(context.Background(), ports.WorkerCoder, ports.ToolCallRequest{Name: "no_such_tool"})
	require.False(t, res.Success)
	require.Contains(t, res.Error, "no_such_tool")
}

func TestExecuteToolNormalizesPanics(t *testing.T) {
	e, reg, _ := newTestExecutor(t, nil)

	require.NoError(t, reg.Register(&fakeTool{name: "boom_err", fn: func(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
		panic(errors.New("boom"))
	}}))
	require.NoError(t, reg.Register(&fakeTool{name: "boom_str", fn: func(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
		panic("internal state dump")
	}}))

	res := e.ExecuteTool(context.Background(), ports.WorkerCoder, ports.ToolCallRequest{Name: "boom_err"})
	require.False(t, res.Success)
	require.Equal(t, "boom", res.Error)

	res = e.ExecuteTool(context.Background(), ports.WorkerCoder, ports.ToolCallRequest{Name: "boom_str"})
	require.False(t, res.Success)
	require.Equal(t, "Unknown error", res.Error)
}

func TestSequentialBatchHaltsOnBlockingError(t *testing.T) {
	e, reg, _ := newTestExecutor(t, nil)
	require.NoError(t, reg.Register(failTool("step_one", "permission denied: /etc/passwd")))

	var ran atomic.Bool
	require.NoError(t, reg.Register(&fakeTool{name: "step_two", fn: func(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
		ran.Store(true)
		return ports.ToolExecutionResult{Success: true}
	}}))

	results := e.ExecuteToolBatch(context.Background(), ports.WorkerCoder, []ports.ToolCallRequest{
		{Name: "step_one"},
		{Name: "step_two"},
	}, BatchOptions{Mode: ports.ExecutionSequential})

	require.Len(t, results, 1)
	require.Contains(t, results, "step_one")
	require.False(t, ran.Load(), "request after a blocking error must not run")
}

func TestSequentialBatchHaltsOnStageTimeout(t *testing.T) {
	e, reg, _ := newTestExecutor(t, func(o *Options) {
		o.Supervisor = supervise.New(supervise.Config{
			Stage: map[string]time.Duration{ports.WorkerCoder: 30 * time.Millisecond},
		}, nil)
	})

	require.NoError(t, reg.Register(&fakeTool{name: "slow_call", fn: func(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
		return ports.ToolExecutionResult{Success: true}
	}}))
	var ran atomic.Bool
	require.NoError(t, reg.Register(&fakeTool{name: "after_slow", fn: func(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
		ran.Store(true)
		return ports.ToolExecutionResult{Success: true}
	}}))

	results := e.ExecuteToolBatch(context.Background(), ports.WorkerCoder, []ports.ToolCallRequest{
		{Name: "slow_call"},
		{Name: "after_slow"},
	}, BatchOptions{Mode: ports.ExecutionSequential})

	require.Len(t, results, 1)
	require.False(t, results["slow_call"].Success)
	require.Contains(t, results["slow_call"].Error, "timeout")
	require.False(t, ran.Load(), "a stage timeout is a blocking error and must halt the batch")
}

func TestSequentialBatchContinuesPastNonBlockingError(t *testing.T) {
	e, reg, _ := newTestExecutor(t, nil)
	require.NoError(t, reg.Register(failTool("flaky", "disk quota exceeded")))
	require.NoError(t, reg.Register(okTool("next", "done")))

	results := e.ExecuteToolBatch(context.Background(), ports.WorkerCoder, []ports.ToolCallRequest{
		{Name: "flaky"},
		{Name: "next"},
	}, BatchOptions{Mode: ports.ExecutionSequential})

	require.Len(t, results, 2)
	require.False(t, results["flaky"].Success)
	require.True(t, results["next"].Success)
}

func TestParallelBatchYieldsResultPerRequest(t *testing.T) {
	e, reg, _ := newTestExecutor(t, nil)
	require.NoError(t, reg.Register(okTool("read_a", "a")))
	require.NoError(t, reg.Register(failTool("read_b", "rejected by user")))
	require.NoError(t, reg.Register(okTool("read_c", "c")))

	results := e.ExecuteToolBatch(context.Background(), ports.WorkerExplorer, []ports.ToolCallRequest{
		{Name: "read_a", CallID: "call-1"},
		{Name: "read_b", CallID: "call-2"},
		{Name: "read_c", CallID: "call-3"},
	}, BatchOptions{Mode: ports.ExecutionParallel})

	require.Len(t, results, 3)
	require.True(t, results["call-1"].Success)
	require.False(t, results["call-2"].Success)
	require.True(t, results["call-3"].Success)
}

func TestAdapterCacheBindsOncePerWorker(t *testing.T) {
	e, reg, _ := newTestExecutor(t, nil)

	bound := &bindingTool{fakeTool: fakeTool{name: "scoped", fn: func(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
		return ports.ToolExecutionResult{Success: true}
	}}}
	require.NoError(t, reg.Register(bound))

	ctx := context.Background()
	e.ExecuteTool(ctx, ports.WorkerCoder, ports.ToolCallRequest{Name: "scoped"})
	e.ExecuteTool(ctx, ports.WorkerCoder, ports.ToolCallRequest{Name: "scoped"})
	require.Equal(t, int32(1), bound.binds.Load())

	e.ExecuteTool(ctx, ports.WorkerTester, ports.ToolCallRequest{Name: "scoped"})
	require.Equal(t, int32(2), bound.binds.Load())

	e.Reset()
	e.ExecuteTool(ctx, ports.WorkerCoder, ports.ToolCallRequest{Name: "scoped"})
	require.Equal(t, int32(3), bound.binds.Load())
}

func TestManualControlRejectionBlocksWrites(t *testing.T) {
	calls := 0
	e, _, root := newTestExecutor(t, func(o *Options) {
		o.Approver = approverFunc(func(ctx context.Context, batch ports.PendingActionBatch) (ports.ApprovalDecision, error) {
			calls++
			require.NotEmpty(t, batch.ID)
			require.Equal(t, ports.WorkerCoder, batch.Agent)
			require.Len(t, batch.Actions, 1)
			require.Equal(t, ports.ActionWrite, batch.Actions[0].Kind)
			return ports.ApprovalDenied, nil
		})
	})

	reqs := []ports.ToolCallRequest{{
		Name:   "file_write",
		CallID: "w-1",
		Input:  map[string]any{"path": "out.txt", "content": "hello\n"},
	}}
	results := e.ExecuteToolBatch(context.Background(), ports.WorkerCoder, reqs, BatchOptions{
		Mode:    ports.ExecutionSequential,
		Control: ControlManual,
	})

	require.Equal(t, 1, calls)
	require.Len(t, results, 1)
	require.False(t, results["w-1"].Success)
	require.Equal(t, "rejected by user", results["w-1"].Error)

	if _, err := os.Stat(filepath.Join(root, "out.txt")); !os.IsNotExist(err) {
		t.Fatalf("rejected write must not touch the workspace: %v", err)
	}
}

func TestAutoControlSkipsApprovalForPlainWrites(t *testing.T) {
	calls := 0
	e, _, root := newTestExecutor(t, func(o *Options) {
		o.Approver = approverFunc(func(ctx context.Context, batch ports.PendingActionBatch) (ports.ApprovalDecision, error) {
			calls++
			return ports.ApprovalDenied, nil
		})
	})

	results := e.ExecuteToolBatch(context.Background(), ports.WorkerCoder, []ports.ToolCallRequest{{
		Name:  "file_write",
		Input: map[string]any{"path": "auto.txt", "content": "ok\n"},
	}}, BatchOptions{Mode: ports.ExecutionSequential, Control: ControlAuto})

	require.Equal(t, 0, calls)
	require.True(t, results["file_write"].Success)

	data, err := os.ReadFile(filepath.Join(root, "auto.txt"))
	require.NoError(t, err)
	require.Equal(t, "ok\n", string(data))
}

func TestAutoControlConfirmsCommands(t *testing.T) {
	calls := 0
	e, _, _ := newTestExecutor(t, func(o *Options) {
		o.Approver = approverFunc(func(ctx context.Context, batch ports.PendingActionBatch) (ports.ApprovalDecision, error) {
			calls++
			require.Equal(t, ports.ActionExecute, batch.Actions[0].Kind)
			require.Equal(t, "rm -rf build", batch.Actions[0].Command)
			return ports.ApprovalDenied, nil
		})
	})

	results := e.ExecuteToolBatch(context.Background(), ports.WorkerBuilder, []ports.ToolCallRequest{{
		Name:  "shell",
		Input: map[string]any{"command": "rm -rf build"},
	}}, BatchOptions{Mode: ports.ExecutionSequential, Control: ControlAuto})

	require.Equal(t, 1, calls)
	require.False(t, results["shell"].Success)
	require.Equal(t, "rejected by user", results["shell"].Error)
}

func TestApprovalTimeoutCountsAsRejection(t *testing.T) {
	e, _, _ := newTestExecutor(t, func(o *Options) {
		o.Config.ApprovalTimeout = 30 * time.Millisecond
		o.Approver = approverFunc(func(ctx context.Context, batch ports.PendingActionBatch) (ports.ApprovalDecision, error) {
			<-ctx.Done()
			// Late signal after the wait window closed.
			return ports.ApprovalGranted, nil
		})
	})

	results := e.ExecuteToolBatch(context.Background(), ports.WorkerCoder, []ports.ToolCallRequest{{
		Name:  "shell",
		Input: map[string]any{"command": "make deploy"},
	}}, BatchOptions{Mode: ports.ExecutionSequential, Control: ControlManual})

	require.False(t, results["shell"].Success)
	require.Equal(t, "rejected by user", results["shell"].Error)
}

func TestLifecycleResetsToIdleAfterDelay(t *testing.T) {
	rec := &statusRecorder{}
	e, _, _ := newTestExecutor(t, func(o *Options) {
		o.Sink = rec
		o.Config.StatusResetDelay = 20 * time.Millisecond
	})

	task := &ports.Task{ID: "t-1", Prompt: "do a thing"}
	e.StartTask(ports.WorkerCoder, task)
	require.Equal(t, ports.StatusExecuting, e.WorkerStatus(ports.WorkerCoder))
	require.Equal(t, ports.TaskInProgress, task.Status)

	e.CompleteTask(ports.WorkerCoder, ports.TaskResult{TaskID: "t-1", Worker: ports.WorkerCoder, Success: true})
	require.Equal(t, ports.StatusCompleted, e.WorkerStatus(ports.WorkerCoder))
	require.Equal(t, ports.TaskCompleted, task.Status)

	require.Eventually(t, func() bool {
		return e.WorkerStatus(ports.WorkerCoder) == ports.StatusIdle
	}, time.Second, 5*time.Millisecond)
	require.Nil(t, e.CurrentTask(ports.WorkerCoder))
}

func TestLifecycleNewTaskSupersedesPendingReset(t *testing.T) {
	e, _, _ := newTestExecutor(t, func(o *Options) {
		o.Config.StatusResetDelay = 20 * time.Millisecond
	})

	e.StartTask(ports.WorkerCoder, &ports.Task{ID: "t-1"})
	e.CompleteTask(ports.WorkerCoder, ports.TaskResult{TaskID: "t-1", Worker: ports.WorkerCoder, Success: false})
	require.Equal(t, ports.StatusFailed, e.WorkerStatus(ports.WorkerCoder))

	// A newer task starts before the reset fires; the stale reset must not
	// knock it back to idle.
	e.StartTask(ports.WorkerCoder, &ports.Task{ID: "t-2"})

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, ports.StatusExecuting, e.WorkerStatus(ports.WorkerCoder))
	task := e.CurrentTask(ports.WorkerCoder)
	require.NotNil(t, task)
	require.Equal(t, "t-2", task.ID)
}
