// Package supervise bounds how long each worker stage may run. A Supervisor
// resolves a deadline from a per-worker-type table, races the operation
// against it, and guarantees the caller regains control at the deadline even
// when the abandoned operation is still unwinding. A separate, longer global
// deadline wraps the entire orchestration request.
package supervise

import (
	"context"
	"errors"
	"time"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/logging"
)

// Config holds the per-worker deadline table plus the fallback and global
// durations. Zero values are replaced by defaults.
type Config struct {
	Stage   map[string]time.Duration `yaml:"stage" json:"stage"`
	Default time.Duration            `yaml:"default" json:"default"`
	Global  time.Duration            `yaml:"global" json:"global"`
}

// DefaultConfig returns the built-in deadline table.
func DefaultConfig() Config {
	return Config{
		Stage: map[string]time.Duration{
			ports.WorkerExplorer: 45 * time.Second,
			ports.WorkerCoder:    120 * time.Second,
			ports.WorkerBuilder:  180 * time.Second,
			ports.WorkerTester:   90 * time.Second,
			ports.WorkerReviewer: 60 * time.Second,
			ports.WorkerFixer:    120 * time.Second,
			ports.WorkerDeployer: 180 * time.Second,
		},
		Default: 60 * time.Second,
		Global:  600 * time.Second,
	}
}

// Supervisor applies stage and global deadlines.
type Supervisor struct {
	stage    map[string]time.Duration
	fallback time.Duration
	global   time.Duration
	logger   logging.Logger
}

// New builds a Supervisor, filling missing config values from the defaults.
func New(cfg Config, logger logging.Logger) *Supervisor {
	def := DefaultConfig()

	stage := make(map[string]time.Duration, len(def.Stage))
	for worker, d := range def.Stage {
		stage[worker] = d
	}
	for worker, d := range cfg.Stage {
		if d > 0 {
			stage[worker] = d
		}
	}

	fallback := cfg.Default
	if fallback <= 0 {
		fallback = def.Default
	}
	global := cfg.Global
	if global <= 0 {
		global = def.Global
	}

	return &Supervisor{
		stage:    stage,
		fallback: fallback,
		global:   global,
		logger:   logging.OrNop(logger),
	}
}

// StageTimeout resolves the deadline for a worker type.
func (s *Supervisor) StageTimeout(worker string) time.Duration {
	if d, ok := s.stage[worker]; ok {
		return d
	}
	return s.fallback
}

// GlobalTimeout returns the request-wide deadline duration.
func (s *Supervisor) GlobalTimeout() time.Duration {
	return s.global
}

// Global derives the request-wide deadline context.
func (s *Supervisor) Global(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.global)
}

// Run executes fn under the worker's stage deadline. If the deadline fires
// first the call returns a StageTimeoutError immediately; fn keeps the
// cancelled context and must unwind cooperatively. Parent cancellation is
// passed through unchanged so a global abort is distinguishable from a stage
// timeout.
func (s *Supervisor) Run(ctx context.Context, worker string, fn func(context.Context) error) error {
	_, err := RunResult(ctx, s, worker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RunResult is Run for operations that produce a value.
func RunResult[T any](ctx context.Context, s *Supervisor, worker string, fn func(context.Context) (T, error)) (T, error) {
	timeout := s.StageTimeout(worker)
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := fn(stageCtx)
		done <- outcome{value: v, err: err}
	}()

	var zero T
	select {
	case out := <-done:
		return out.value, out.err
	case <-stageCtx.Done():
		if ctx.Err() != nil {
			// The parent aborted; this is not a stage timeout.
			return zero, ctx.Err()
		}
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("%s stage abandoned after %s", worker, timeout)
			return zero, &errs.StageTimeoutError{Worker: worker, Timeout: timeout}
		}
		return zero, stageCtx.Err()
	}
}
