package executor

import (
	"sync"
	"time"

	"foreman/internal/agent/ports"
)

// lifecycleTable tracks the externally visible status and current task of
// each worker. Completion holds the terminal status briefly before resetting
// to idle, long enough for a UI to show it; a newer task supersedes any
// pending reset via the generation counter.
type lifecycleTable struct {
	mu         sync.Mutex
	entries    map[string]*workerEntry
	sink       ports.StatusSink
	resetDelay time.Duration
}

type workerEntry struct {
	status     ports.WorkerStatus
	task       *ports.Task
	generation uint64
}

func newLifecycleTable(sink ports.StatusSink, resetDelay time.Duration) *lifecycleTable {
	return &lifecycleTable{
		entries:    make(map[string]*workerEntry),
		sink:       ports.SinkOrNop(sink),
		resetDelay: resetDelay,
	}
}

func (t *lifecycleTable) entry(workerID string) *workerEntry {
	if e, ok := t.entries[workerID]; ok {
		return e
	}
	e := &workerEntry{status: ports.StatusIdle}
	t.entries[workerID] = e
	return e
}

// StartTask transitions a worker to executing and records its current task.
func (e *Executor) StartTask(workerID string, task *ports.Task) {
	e.lifecycle.mu.Lock()
	entry := e.lifecycle.entry(workerID)
	entry.status = ports.StatusExecuting
	entry.task = task
	entry.generation++
	e.lifecycle.mu.Unlock()

	if task != nil {
		task.Status = ports.TaskInProgress
	}
	e.sink.OnStatus(workerID, ports.StatusExecuting)
}

// CompleteTask transitions a worker to its terminal status, then resets the
// visible status to idle after the configured delay unless a newer task has
// started in the meantime.
func (e *Executor) CompleteTask(workerID string, result ports.TaskResult) {
	status := ports.StatusCompleted
	taskStatus := ports.TaskCompleted
	if !result.Success {
		status = ports.StatusFailed
		taskStatus = ports.TaskFailed
	}

	e.lifecycle.mu.Lock()
	entry := e.lifecycle.entry(workerID)
	entry.status = status
	if entry.task != nil && entry.task.ID == result.TaskID {
		entry.task.Status = taskStatus
	}
	generation := entry.generation
	e.lifecycle.mu.Unlock()

	e.sink.OnStatus(workerID, status)

	time.AfterFunc(e.lifecycle.resetDelay, func() {
		e.lifecycle.mu.Lock()
		entry := e.lifecycle.entry(workerID)
		if entry.generation != generation {
			// A newer task owns the status now.
			e.lifecycle.mu.Unlock()
			return
		}
		entry.status = ports.StatusIdle
		entry.task = nil
		e.lifecycle.mu.Unlock()
		e.sink.OnStatus(workerID, ports.StatusIdle)
	})
}

// WorkerStatus returns the current externally visible status of a worker.
func (e *Executor) WorkerStatus(workerID string) ports.WorkerStatus {
	e.lifecycle.mu.Lock()
	defer e.lifecycle.mu.Unlock()
	return e.lifecycle.entry(workerID).status
}

// CurrentTask returns the task a worker is executing, nil when idle.
func (e *Executor) CurrentTask(workerID string) *ports.Task {
	e.lifecycle.mu.Lock()
	defer e.lifecycle.mu.Unlock()
	return e.lifecycle.entry(workerID).task
}

// Reset clears every lifecycle entry.
func (t *lifecycleTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*workerEntry)
}
