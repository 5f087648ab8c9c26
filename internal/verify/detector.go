package verify

import (
	"strings"
)

// Detector scans free-text worker output for defect markers. It is a cheap
// line filter, not a parser: anything that looks like a failure line becomes a
// residual error string fed back to the fixer.
type Detector struct{}

// NewDetector builds a Detector.
func NewDetector() *Detector { return &Detector{} }

// Detect returns the lines of output that carry a defect signature.
func (d *Detector) Detect(output string) []string {
	var residual []string
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if defectLine(line) {
			residual = append(residual, line)
		}
	}
	return residual
}

func defectLine(line string) bool {
	if strings.Contains(line, "❌") {
		return true
	}
	if strings.HasPrefix(line, "ERROR") || strings.HasPrefix(line, "Error:") || strings.HasPrefix(line, "error:") {
		return true
	}
	if strings.HasPrefix(line, "panic:") || strings.HasPrefix(line, "Traceback") {
		return true
	}
	lower := strings.ToLower(line)
	if strings.Contains(lower, "exception") {
		return true
	}
	for _, tok := range strings.Fields(line) {
		if tok == "FAIL" || tok == "FAILED" || tok == "FAIL:" {
			return true
		}
	}
	return false
}
