package ports

import (
	"fmt"
	"time"
)

// IssueType names the pipeline stage that produced a QualityIssue.
type IssueType string

const (
	IssueFromTest   IssueType = "test"
	IssueFromReview IssueType = "review"
)

// IssueSeverity ranks a QualityIssue.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
	SeverityInfo    IssueSeverity = "info"
)

// QualityIssue is one finding parsed from free-text stage output. Issues live
// for a single pipeline run and are never persisted.
type QualityIssue struct {
	Type     IssueType     `json:"type"`
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// CountBySeverity returns the number of error and warning issues in the list.
func CountBySeverity(issues []QualityIssue) (errors, warnings int) {
	for _, is := range issues {
		switch is.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		}
	}
	return errors, warnings
}

// FormatCounts renders issue totals for summaries, e.g. "0 errors, 1 warning".
func FormatCounts(errors, warnings int) string {
	return fmt.Sprintf("%s, %s", Pluralize(errors, "error"), Pluralize(warnings, "warning"))
}

// Pluralize renders a count with its unit, e.g. "1 warning", "2 warnings".
func Pluralize(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// VerificationResult is the outcome of one bounded fix cycle.
type VerificationResult struct {
	Success       bool          `json:"success"`
	TotalAttempts int           `json:"total_attempts"`
	RolledBack    bool          `json:"rolled_back"`
	FinalErrors   []string      `json:"final_errors,omitempty"`
	Artifact      string        `json:"-"`
	TotalDuration time.Duration `json:"-"`
}
