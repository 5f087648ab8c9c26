package quality

import (
	"strings"

	"foreman/internal/agent/ports"
)

// Severity markers emitted by the tester and reviewer prompts. A marker on a
// line decides its severity outright; keywords only apply to unmarked lines.
const (
	markerError   = "❌"
	markerWarning = "⚠️"
	markerInfo    = "✅"
)

var errorKeywords = []string{
	"error", "bug", "fail", "failure", "crash", "broken", "incorrect",
	"missing", "vulnerability",
	"错误", "失败", "崩溃", "漏洞", "缺陷",
}

var warningKeywords = []string{
	"improve", "consider", "suggest", "recommend", "warning", "should",
	"prefer", "style",
	"建议", "优化", "改进", "警告", "风格",
}

// classify parses free-text stage output into issues. Best-effort: it reads
// the annotation conventions the stage prompts ask for and falls back to
// keyword matching on list-like lines. Prose never classifies.
func classify(output string, source ports.IssueType) []ports.QualityIssue {
	var issues []ports.QualityIssue
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if severity, ok := markerSeverity(line); ok {
			issues = append(issues, ports.QualityIssue{
				Type:     source,
				Severity: severity,
				Message:  stripMarkers(line),
			})
			continue
		}

		if !isListLine(line) {
			continue
		}
		text := strings.ToLower(stripListPrefix(line))
		if containsAny(text, errorKeywords) {
			issues = append(issues, ports.QualityIssue{
				Type:     source,
				Severity: ports.SeverityError,
				Message:  stripListPrefix(line),
			})
		} else if containsAny(text, warningKeywords) {
			issues = append(issues, ports.QualityIssue{
				Type:     source,
				Severity: ports.SeverityWarning,
				Message:  stripListPrefix(line),
			})
		}
	}
	return issues
}

func markerSeverity(line string) (ports.IssueSeverity, bool) {
	switch {
	case strings.Contains(line, markerError):
		return ports.SeverityError, true
	case strings.Contains(line, markerWarning):
		return ports.SeverityWarning, true
	case strings.Contains(line, markerInfo):
		return ports.SeverityInfo, true
	}
	return "", false
}

func stripMarkers(line string) string {
	for _, m := range []string{markerError, markerWarning, markerInfo} {
		line = strings.ReplaceAll(line, m, "")
	}
	return strings.TrimSpace(stripListPrefix(strings.TrimSpace(line)))
}

// isListLine reports whether a line looks like a finding item: bulleted or
// numbered. Keyword classification only applies to these.
func isListLine(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "• ") {
		return true
	}
	// Numbered list: digits followed by a dot or closing paren.
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) {
		return false
	}
	return line[i] == '.' || line[i] == ')'
}

func stripListPrefix(line string) string {
	for _, p := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(line[len(p):])
		}
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
