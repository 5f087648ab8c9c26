// Package verify wraps repair attempts in a bounded retry loop with optional
// rollback. The loop never escalates: an exhausted cycle reports its residual
// errors and either restores the pre-fix artifact or keeps the best effort.
package verify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/logging"
	"foreman/internal/observability"
)

const repairPrompt = `You are a fixer. The artifact below still has the listed errors.
Emit the complete corrected artifact and nothing else.`

// FixFunc produces a repaired artifact from the current one plus the residual
// errors of the previous attempt. Injectable for tests.
type FixFunc func(ctx context.Context, artifact string, residual []string, attempt int) (string, error)

// Options bounds one verification run.
type Options struct {
	MaxRetries     int
	EnableRollback bool
	Fixer          FixFunc
}

// DefaultOptions returns the standard bounds: three attempts, rollback on.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, EnableRollback: true}
}

// Loop drives detection and repair for non-pipeline workers.
type Loop struct {
	completion ports.CompletionService
	detector   *Detector
	tracer     *observability.TracerProvider
	metrics    *observability.Metrics
	logger     logging.Logger

	mu        sync.Mutex
	ops       int
	successes int
	attempts  int
}

// LoopOptions wires the loop's collaborators.
type LoopOptions struct {
	Completion ports.CompletionService
	Tracer     *observability.TracerProvider
	Metrics    *observability.Metrics
	Logger     logging.Logger
}

// NewLoop builds a Loop.
func NewLoop(opts LoopOptions) *Loop {
	return &Loop{
		completion: opts.Completion,
		detector:   NewDetector(),
		tracer:     opts.Tracer,
		metrics:    opts.Metrics,
		logger:     logging.OrNop(opts.Logger),
	}
}

// Run verifies a worker's output and retries repairs until the detector comes
// back clean or the attempt budget is spent. The fixer worker's own output is
// exempt: it already sits at the end of a repair chain.
func (l *Loop) Run(ctx context.Context, worker, output string, convo []ports.Message, opts Options) ports.VerificationResult {
	if worker == ports.WorkerFixer {
		return ports.VerificationResult{Success: true, Artifact: output}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	fixer := opts.Fixer
	if fixer == nil {
		fixer = l.completionFixer
	}

	ctx, span := l.tracer.Start(ctx, observability.SpanVerifyRun,
		attribute.String(observability.AttrWorkerID, worker))
	defer span.End()

	start := time.Now()
	original := output
	artifact := output

	residual := l.detector.Detect(artifact)
	if len(residual) == 0 {
		result := ports.VerificationResult{Success: true, Artifact: artifact, TotalDuration: time.Since(start)}
		l.record(result)
		return result
	}

	attempt := 0
	for attempt < opts.MaxRetries {
		attempt++
		fixed, err := fixer(ctx, artifact, residual, attempt)
		if err != nil {
			l.logger.Warn("verification attempt %d for %s failed: %v", attempt, worker, err)
			if errs.IsPermanent(err) {
				// An auth or request error fails the same way every attempt.
				break
			}
		} else if strings.TrimSpace(fixed) != "" {
			artifact = fixed
		}

		residual = l.detector.Detect(artifact)
		if len(residual) == 0 {
			result := ports.VerificationResult{
				Success:       true,
				TotalAttempts: attempt,
				Artifact:      artifact,
				TotalDuration: time.Since(start),
			}
			l.record(result)
			return result
		}
	}

	result := ports.VerificationResult{
		Success:       false,
		TotalAttempts: attempt,
		FinalErrors:   residual,
		Artifact:      artifact,
		TotalDuration: time.Since(start),
	}
	if opts.EnableRollback {
		result.RolledBack = true
		result.Artifact = original
		l.logger.Warn("verification for %s exhausted after %d attempts, rolled back", worker, attempt)
	} else {
		l.logger.Warn("verification for %s exhausted after %d attempts, keeping partial artifact", worker, attempt)
	}
	l.record(result)
	return result
}

func (l *Loop) completionFixer(ctx context.Context, artifact string, residual []string, attempt int) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Artifact:\n\n%s\n\nRemaining errors", artifact)
	if attempt > 1 {
		fmt.Fprintf(&sb, " (attempt %d)", attempt)
	}
	sb.WriteString(":\n\n")
	for _, r := range residual {
		fmt.Fprintf(&sb, "- %s\n", r)
	}

	resp, err := l.completion.Complete(ctx, ports.CompletionRequest{
		SystemPrompt: repairPrompt,
		Messages:     []ports.Message{{Role: ports.RoleUser, Content: sb.String()}},
	})
	if err != nil {
		return "", err
	}
	return extractFenced(resp.Content), nil
}

// record feeds the in-process accumulator and the Prometheus collectors. The
// accumulator summary goes to the log every ten operations.
func (l *Loop) record(result ports.VerificationResult) {
	l.metrics.RecordVerification(result.Success, result.TotalAttempts)

	l.mu.Lock()
	l.ops++
	l.attempts += result.TotalAttempts
	if result.Success {
		l.successes++
	}
	ops, successes, attempts := l.ops, l.successes, l.attempts
	l.mu.Unlock()

	if ops%10 == 0 {
		l.logger.Info("verification stats: %d ops, %d succeeded, %d total attempts", ops, successes, attempts)
	}
}

func extractFenced(reply string) string {
	trimmed := strings.TrimSpace(reply)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	rest := trimmed[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimRight(rest, "\n")
}
