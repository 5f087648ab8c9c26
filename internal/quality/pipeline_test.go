package quality

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/agent/ports"
	"foreman/internal/llm"
)

func TestClassifyMarkersWinOverKeywords(t *testing.T) {
	// The line carries an error keyword ("bug") but the ✅ marker decides.
	issues := classify("✅ No bug found in the loop bound", ports.IssueFromTest)
	require.Len(t, issues, 1)
	require.Equal(t, ports.SeverityInfo, issues[0].Severity)
}

func TestClassifySingleErrorMarker(t *testing.T) {
	issues := classify("❌ Off-by-one in loop bound", ports.IssueFromTest)
	require.Len(t, issues, 1)
	require.Equal(t, ports.SeverityError, issues[0].Severity)
	require.Equal(t, "Off-by-one in loop bound", issues[0].Message)
}

func TestClassifyProseNeverClassifies(t *testing.T) {
	out := "The code has an error handling path that could crash.\nOverall the failure modes look broken."
	require.Empty(t, classify(out, ports.IssueFromReview))
}

func TestClassifyKeywordsOnListLines(t *testing.T) {
	cases := []struct {
		line     string
		severity ports.IssueSeverity
	}{
		{"- the parser will crash on empty input", ports.SeverityError},
		{"* missing null check in handler", ports.SeverityError},
		{"• 解析器在空输入时会崩溃", ports.SeverityError},
		{"1. consider renaming this variable", ports.SeverityWarning},
		{"2) 建议简化这个函数", ports.SeverityWarning},
		{"- prefer a table-driven test here", ports.SeverityWarning},
	}
	for _, tc := range cases {
		issues := classify(tc.line, ports.IssueFromReview)
		if len(issues) != 1 {
			t.Fatalf("%q: expected one issue, got %d", tc.line, len(issues))
		}
		if issues[0].Severity != tc.severity {
			t.Fatalf("%q: expected %s, got %s", tc.line, tc.severity, issues[0].Severity)
		}
	}
}

func TestClassifyNeutralListLine(t *testing.T) {
	require.Empty(t, classify("- reads the config file at startup", ports.IssueFromTest))
}

func TestPipelineValidatedSkipsFixer(t *testing.T) {
	mock := llm.NewMock(
		"✅ Handles empty input\n✅ Returns correct sums",
		"✅ Clear naming throughout",
	)
	p := New(Options{Completion: mock})

	report, err := p.Run(context.Background(), ports.WorkerCoder, "func Sum(a, b int) int { return a + b }", nil)
	require.NoError(t, err)
	require.Equal(t, "validated", report.Summary)
	require.False(t, report.FixApplied)
	require.Empty(t, report.Issues)
	require.Equal(t, 2, mock.Calls(), "fixer must not run when nothing is actionable")
}

func TestPipelineFixesActionableIssues(t *testing.T) {
	mock := llm.NewMock(
		"✅ Renders without crashing",
		"⚠️ missing aria-label on the submit button",
		"```html\n<button aria-label=\"Submit form\">Submit</button>\n```",
	)
	p := New(Options{Completion: mock})

	report, err := p.Run(context.Background(), ports.WorkerCoder, "<button>Submit</button>", nil)
	require.NoError(t, err)
	require.True(t, report.FixApplied)
	require.Equal(t, `<button aria-label="Submit form">Submit</button>`, report.Artifact)
	require.Equal(t, 0, report.Errors())
	require.Equal(t, 1, report.Warnings())
	require.Equal(t, "0 errors, 1 warning", report.Summary)
	require.Equal(t, 3, mock.Calls())

	// The fixer saw both raw stage outputs and the classified list.
	fixerReq := mock.Requests[2]
	require.Contains(t, fixerReq.Messages[0].Content, "missing aria-label")
	require.Contains(t, fixerReq.Messages[0].Content, "Issues:")
}

func TestPipelineStageFailureDegrades(t *testing.T) {
	calls := 0
	mock := &llm.Mock{}
	mock.Script = func(req ports.CompletionRequest) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("tester provider unavailable")
		}
		return "✅ Looks fine", nil
	}
	p := New(Options{Completion: mock})

	report, err := p.Run(context.Background(), ports.WorkerFixer, "artifact", nil)
	require.NoError(t, err)
	require.Equal(t, "validated", report.Summary)
	require.Equal(t, "artifact", report.Artifact)
}

func TestPipelineFixerFailureKeepsOriginal(t *testing.T) {
	calls := 0
	mock := &llm.Mock{}
	mock.Script = func(req ports.CompletionRequest) (string, error) {
		calls++
		if calls == 3 {
			return "", errors.New("fixer provider unavailable")
		}
		return "❌ nil dereference in handler", nil
	}
	p := New(Options{Completion: mock})

	report, err := p.Run(context.Background(), ports.WorkerCoder, "original", nil)
	require.NoError(t, err)
	require.False(t, report.FixApplied)
	require.Equal(t, "original", report.Artifact)
	require.NotEmpty(t, report.Issues)
}

func TestPipelineSkipsNonCodeWorkers(t *testing.T) {
	mock := llm.NewMock("should never be called")
	p := New(Options{Completion: mock})

	report, err := p.Run(context.Background(), ports.WorkerExplorer, "notes", nil)
	require.NoError(t, err)
	require.Equal(t, "notes", report.Artifact)
	require.Equal(t, 0, mock.Calls())
}

func TestExtractArtifact(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```go\npackage main\n```", "package main"},
		{"Here you go:\n```\nplain\n```\ntrailing", "plain"},
		{"no fence at all", "no fence at all"},
	}
	for _, tc := range cases {
		if got := ExtractArtifact(tc.in); got != tc.want {
			t.Fatalf("ExtractArtifact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
