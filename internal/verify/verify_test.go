package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
)

func TestDetectorFindsDefectLines(t *testing.T) {
	cases := []struct {
		output string
		want   int
	}{
		{"all good\neverything compiled", 0},
		{"❌ loop bound off by one", 1},
		{"Error: main.go:14: undefined variable", 1},
		{"panic: runtime error: index out of range", 1},
		{"Traceback (most recent call last):\n  File \"x.py\"", 1},
		{"--- FAIL: TestSum (0.00s)\nok\nFAIL\texample\t0.1s", 2},
		{"caught an unhandled exception in the worker", 1},
		{"ERROR rendering template\n❌ broken layout", 2},
	}
	d := NewDetector()
	for _, tc := range cases {
		got := d.Detect(tc.output)
		if len(got) != tc.want {
			t.Fatalf("Detect(%q) = %v, want %d lines", tc.output, got, tc.want)
		}
	}
}

func TestLoopSkipsFixerWorker(t *testing.T) {
	l := NewLoop(LoopOptions{})

	res := l.Run(context.Background(), ports.WorkerFixer, "❌ still broken", nil, DefaultOptions())
	require.True(t, res.Success)
	require.Equal(t, 0, res.TotalAttempts)
	require.Equal(t, "❌ still broken", res.Artifact)
}

func TestLoopCleanOutputNeedsNoAttempts(t *testing.T) {
	l := NewLoop(LoopOptions{})

	res := l.Run(context.Background(), ports.WorkerBuilder, "build succeeded", nil, DefaultOptions())
	require.True(t, res.Success)
	require.Equal(t, 0, res.TotalAttempts)
}

func TestLoopSucceedsOnSecondAttempt(t *testing.T) {
	l := NewLoop(LoopOptions{})

	var seenResidual [][]string
	opts := DefaultOptions()
	opts.Fixer = func(ctx context.Context, artifact string, residual []string, attempt int) (string, error) {
		seenResidual = append(seenResidual, residual)
		if attempt == 1 {
			return "Error: still one defect left", nil
		}
		return "clean output", nil
	}

	res := l.Run(context.Background(), ports.WorkerTester, "❌ two defects\n❌ found here", nil, opts)
	require.True(t, res.Success)
	require.Equal(t, 2, res.TotalAttempts)
	require.Equal(t, "clean output", res.Artifact)
	require.False(t, res.RolledBack)

	// Attempt 2 saw the residual errors left by attempt 1.
	require.Len(t, seenResidual, 2)
	require.Equal(t, []string{"Error: still one defect left"}, seenResidual[1])
}

func TestLoopExhaustionRollsBack(t *testing.T) {
	l := NewLoop(LoopOptions{})

	opts := DefaultOptions()
	opts.Fixer = func(ctx context.Context, artifact string, residual []string, attempt int) (string, error) {
		return "❌ the defect survives every attempt", nil
	}

	res := l.Run(context.Background(), ports.WorkerCoder, "❌ initial defect", nil, opts)
	require.False(t, res.Success)
	require.Equal(t, 3, res.TotalAttempts)
	require.True(t, res.RolledBack)
	require.NotEmpty(t, res.FinalErrors)
	require.Equal(t, "❌ initial defect", res.Artifact, "rollback restores the pre-fix artifact")
}

func TestLoopExhaustionWithoutRollbackKeepsBestEffort(t *testing.T) {
	l := NewLoop(LoopOptions{})

	opts := Options{MaxRetries: 2, EnableRollback: false}
	opts.Fixer = func(ctx context.Context, artifact string, residual []string, attempt int) (string, error) {
		return "partially repaired\n❌ one defect left", nil
	}

	res := l.Run(context.Background(), ports.WorkerCoder, "❌ a\n❌ b", nil, opts)
	require.False(t, res.Success)
	require.Equal(t, 2, res.TotalAttempts)
	require.False(t, res.RolledBack)
	require.Contains(t, res.Artifact, "partially repaired")
	require.Equal(t, []string{"❌ one defect left"}, res.FinalErrors)
}

func TestLoopPermanentFixerErrorStopsRetrying(t *testing.T) {
	l := NewLoop(LoopOptions{})

	attempts := 0
	opts := DefaultOptions()
	opts.Fixer = func(ctx context.Context, artifact string, residual []string, attempt int) (string, error) {
		attempts++
		return "", errs.NewPermanentError(errors.New("invalid api key"), "authentication failed")
	}

	res := l.Run(context.Background(), ports.WorkerCoder, "❌ defect", nil, opts)
	require.False(t, res.Success)
	require.Equal(t, 1, attempts, "a permanent failure repeats identically; further attempts are pointless")
	require.True(t, res.RolledBack)
}

func TestLoopFixerErrorKeepsCurrentArtifact(t *testing.T) {
	l := NewLoop(LoopOptions{})

	opts := Options{MaxRetries: 1, EnableRollback: false}
	opts.Fixer = func(ctx context.Context, artifact string, residual []string, attempt int) (string, error) {
		return "", errors.New("provider unavailable")
	}

	res := l.Run(context.Background(), ports.WorkerTester, "❌ defect", nil, opts)
	require.False(t, res.Success)
	require.Equal(t, "❌ defect", res.Artifact)
}
