package ports

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of work handed to a worker. A task has a single owner at
// any time: the worker currently executing it performs all mutations.
type Task struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Prompt    string     `json:"prompt"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// TaskResult is the outcome of one worker run.
type TaskResult struct {
	TaskID     string        `json:"task_id"`
	Worker     string        `json:"worker"`
	Output     string        `json:"output"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Iterations int           `json:"iterations"`
	TokensUsed int           `json:"tokens_used"`
	Duration   time.Duration `json:"-"`
}

// WorkerStatus is the externally visible state of a worker.
type WorkerStatus string

const (
	StatusIdle      WorkerStatus = "idle"
	StatusThinking  WorkerStatus = "thinking"
	StatusExecuting WorkerStatus = "executing"
	StatusCompleted WorkerStatus = "completed"
	StatusFailed    WorkerStatus = "failed"
	StatusAborted   WorkerStatus = "aborted"
)

// Worker role names. The set is closed; routing and policy lookups use these.
const (
	WorkerExplorer = "explorer"
	WorkerCoder    = "coder"
	WorkerBuilder  = "builder"
	WorkerTester   = "tester"
	WorkerReviewer = "reviewer"
	WorkerFixer    = "fixer"
	WorkerDeployer = "deployer"
)

// AllWorkers lists every known worker role.
func AllWorkers() []string {
	return []string{
		WorkerExplorer,
		WorkerCoder,
		WorkerBuilder,
		WorkerTester,
		WorkerReviewer,
		WorkerFixer,
		WorkerDeployer,
	}
}

// KnownWorker reports whether name is a defined worker role.
func KnownWorker(name string) bool {
	switch name {
	case WorkerExplorer, WorkerCoder, WorkerBuilder, WorkerTester,
		WorkerReviewer, WorkerFixer, WorkerDeployer:
		return true
	}
	return false
}

// CodeProducing reports whether the worker's output is a code artifact and
// therefore subject to the quality pipeline.
func CodeProducing(worker string) bool {
	return worker == WorkerCoder || worker == WorkerFixer
}
