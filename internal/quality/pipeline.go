// Package quality runs generated artifacts through a tester and reviewer
// stage, classifies their free-text findings into issues, and applies a fixer
// stage when anything ranked error or warning. The pipeline is best-effort: a
// failed stage degrades to an empty finding list instead of aborting the run.
package quality

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/logging"
	"foreman/internal/observability"
)

const testerPrompt = `You are a software tester. Examine the artifact below and report findings as a list.
Annotate each finding: ❌ for a defect, ⚠️ for a concern, ✅ for a verified behavior.
Report only what you can justify from the artifact.`

const reviewerPrompt = `You are a code reviewer. Review the artifact below together with the tester's findings.
Report findings as a list annotated ❌ / ⚠️ / ✅.
Focus on correctness, clarity, and accessibility; do not repeat the tester verbatim.`

const fixerPrompt = `You are a fixer. The artifact below has the listed issues.
Emit the complete corrected artifact and nothing else. Use one fenced code block if the artifact is code.`

// Report is the outcome of one pipeline run.
type Report struct {
	Issues     []ports.QualityIssue
	Artifact   string
	FixApplied bool
	Summary    string
}

// Errors and Warnings count the report's issues by severity.
func (r *Report) Errors() int {
	errors, _ := ports.CountBySeverity(r.Issues)
	return errors
}

func (r *Report) Warnings() int {
	_, warnings := ports.CountBySeverity(r.Issues)
	return warnings
}

// Options wires the pipeline's collaborators.
type Options struct {
	Completion ports.CompletionService
	Tracer     *observability.TracerProvider
	Logger     logging.Logger
	MaxTokens  int
}

// Pipeline is the tester → reviewer → fixer sequence applied to the output of
// code-producing workers.
type Pipeline struct {
	completion ports.CompletionService
	tracer     *observability.TracerProvider
	logger     logging.Logger
	maxTokens  int
}

// New builds a Pipeline.
func New(opts Options) *Pipeline {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Pipeline{
		completion: opts.Completion,
		tracer:     opts.Tracer,
		logger:     logging.OrNop(opts.Logger),
		maxTokens:  maxTokens,
	}
}

// Run executes the pipeline for one worker's artifact. Only code-producing
// workers are eligible; anything else passes through untouched.
func (p *Pipeline) Run(ctx context.Context, worker, artifact string, convo []ports.Message) (*Report, error) {
	if !ports.CodeProducing(worker) {
		return &Report{Artifact: artifact, Summary: "not applicable"}, nil
	}

	ctx, span := p.tracer.Start(ctx, observability.SpanPipelineRun,
		attribute.String(observability.AttrWorkerID, worker))
	defer span.End()

	testerOut, err := p.runStage(ctx, "tester", testerPrompt, fmt.Sprintf("Artifact:\n\n%s", artifact))
	if err != nil && !errs.IsDegraded(err) {
		return nil, err
	}
	reviewerOut, err := p.runStage(ctx, "reviewer", reviewerPrompt,
		fmt.Sprintf("Artifact:\n\n%s\n\nTester findings:\n\n%s", artifact, testerOut))
	if err != nil && !errs.IsDegraded(err) {
		return nil, err
	}

	issues := append(classify(testerOut, ports.IssueFromTest), classify(reviewerOut, ports.IssueFromReview)...)
	actionable := dropInfo(issues)

	report := &Report{Issues: actionable, Artifact: artifact}
	errors, warnings := ports.CountBySeverity(actionable)

	if errors == 0 && warnings == 0 {
		report.Summary = "validated"
		return report, nil
	}

	fixed, ok := p.runFixer(ctx, artifact, testerOut, reviewerOut, actionable)
	if ok {
		report.Artifact = fixed
		report.FixApplied = true
	}
	report.Summary = ports.FormatCounts(errors, warnings)
	return report, nil
}

// runStage runs one finding stage. A completion failure comes back as a
// DegradedError with an empty finding list as fallback, so the pipeline keeps
// going without that stage's findings.
func (p *Pipeline) runStage(ctx context.Context, name, system, input string) (string, error) {
	resp, err := p.completion.Complete(ctx, ports.CompletionRequest{
		SystemPrompt: system,
		Messages:     []ports.Message{{Role: ports.RoleUser, Content: input}},
		MaxTokens:    p.maxTokens,
	})
	if err != nil {
		p.logger.Warn("quality %s stage failed, continuing without its findings: %v", name, err)
		return "", errs.NewDegradedError(err, fmt.Sprintf("quality %s stage unavailable", name), "")
	}
	return resp.Content, nil
}

func (p *Pipeline) runFixer(ctx context.Context, artifact, testerOut, reviewerOut string, issues []ports.QualityIssue) (string, bool) {
	var list strings.Builder
	for _, is := range issues {
		fmt.Fprintf(&list, "- [%s/%s] %s\n", is.Type, is.Severity, is.Message)
	}

	input := fmt.Sprintf("Artifact:\n\n%s\n\nTester output:\n\n%s\n\nReviewer output:\n\n%s\n\nIssues:\n\n%s",
		artifact, testerOut, reviewerOut, list.String())

	resp, err := p.completion.Complete(ctx, ports.CompletionRequest{
		SystemPrompt: fixerPrompt,
		Messages:     []ports.Message{{Role: ports.RoleUser, Content: input}},
		MaxTokens:    p.maxTokens,
	})
	if err != nil {
		p.logger.Warn("quality fixer stage failed, keeping original artifact: %v", err)
		return "", false
	}
	fixed := ExtractArtifact(resp.Content)
	if strings.TrimSpace(fixed) == "" {
		return "", false
	}
	return fixed, true
}

func dropInfo(issues []ports.QualityIssue) []ports.QualityIssue {
	kept := issues[:0:0]
	for _, is := range issues {
		if is.Severity != ports.SeverityInfo {
			kept = append(kept, is)
		}
	}
	return kept
}

// ExtractArtifact pulls the contents of the first fenced code block out of a
// reply, or returns the reply trimmed when no fence is present.
func ExtractArtifact(reply string) string {
	trimmed := strings.TrimSpace(reply)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	rest := trimmed[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line.
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimRight(rest, "\n")
}
