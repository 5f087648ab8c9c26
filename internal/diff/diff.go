// Package diff renders unified diffs for approval previews: before a batch
// touches a file, the operator sees what would change.
package diff

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Oversized files are summarized instead of diffed.
const maxDiffSize = 10 * 1024 * 1024

// Generator produces unified diffs.
type Generator struct {
	contextLines int
	colorEnabled bool
}

// NewGenerator builds a Generator keeping contextLines of unchanged context
// around each hunk.
func NewGenerator(contextLines int, colorEnabled bool) *Generator {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Generator{contextLines: contextLines, colorEnabled: colorEnabled}
}

// DiffResult is a rendered diff plus its statistics.
type DiffResult struct {
	UnifiedDiff  string
	AddedLines   int
	DeletedLines int
	ChangedFiles int
	IsBinary     bool
}

// GenerateUnified diffs old against new content line by line.
func (g *Generator) GenerateUnified(oldContent, newContent, filename string) (*DiffResult, error) {
	if oldContent == newContent {
		return &DiffResult{}, nil
	}
	if isBinary(oldContent) || isBinary(newContent) {
		return &DiffResult{
			UnifiedDiff:  fmt.Sprintf("Binary file %s has changed", filename),
			ChangedFiles: 1,
			IsBinary:     true,
		}, nil
	}
	if len(oldContent) > maxDiffSize || len(newContent) > maxDiffSize {
		return &DiffResult{
			UnifiedDiff:  fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ file too large, diff skipped @@\n", filename, filename),
			ChangedFiles: 1,
		}, nil
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	body, added, deleted := g.render(diffs)
	if added == 0 && deleted == 0 {
		return &DiffResult{}, nil
	}

	var out strings.Builder
	out.WriteString(g.colorize("--- a/"+filename+"\n", color.FgRed))
	out.WriteString(g.colorize("+++ b/"+filename+"\n", color.FgGreen))
	out.WriteString(body)

	return &DiffResult{
		UnifiedDiff:  out.String(),
		AddedLines:   added,
		DeletedLines: deleted,
		ChangedFiles: 1,
	}, nil
}

// render walks line-level diffs and emits +/-/context lines, keeping only
// contextLines of unchanged text adjacent to each change.
func (g *Generator) render(diffs []diffmatchpatch.Diff) (string, int, int) {
	var out strings.Builder
	added, deleted := 0, 0

	for i, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			for _, line := range lines {
				out.WriteString(g.colorize("+"+line+"\n", color.FgGreen))
				added++
			}
		case diffmatchpatch.DiffDelete:
			for _, line := range lines {
				out.WriteString(g.colorize("-"+line+"\n", color.FgRed))
				deleted++
			}
		case diffmatchpatch.DiffEqual:
			kept := g.trimContext(lines, i == 0, i == len(diffs)-1)
			for _, line := range kept {
				if line == elidedMarker {
					out.WriteString(g.colorize(elidedMarker+"\n", color.FgCyan))
					continue
				}
				out.WriteString(" " + line + "\n")
			}
		}
	}
	return out.String(), added, deleted
}

const elidedMarker = "@@"

// trimContext keeps the edges of an unchanged run that border a change. The
// first run has no preceding change, the last no following one.
func (g *Generator) trimContext(lines []string, first, last bool) []string {
	n := g.contextLines
	if len(lines) <= 2*n {
		return lines
	}
	var kept []string
	if !first {
		kept = append(kept, lines[:n]...)
	}
	kept = append(kept, elidedMarker)
	if !last {
		kept = append(kept, lines[len(lines)-n:]...)
	}
	return kept
}

func (g *Generator) colorize(text string, attr color.Attribute) string {
	if !g.colorEnabled {
		return text
	}
	return color.New(attr).Sprint(text)
}

// splitLines drops the trailing empty element produced by a final newline.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// isBinary reports whether the leading bytes contain a NUL.
func isBinary(content string) bool {
	limit := len(content)
	if limit > 8000 {
		limit = 8000
	}
	return strings.IndexByte(content[:limit], 0) >= 0
}

// FormatSummary returns a one-line change summary.
func (dr *DiffResult) FormatSummary() string {
	if dr.IsBinary {
		return "Binary file changed"
	}
	if dr.AddedLines == 0 && dr.DeletedLines == 0 {
		return "No changes"
	}
	var parts []string
	if dr.AddedLines > 0 {
		parts = append(parts, fmt.Sprintf("+%d lines", dr.AddedLines))
	}
	if dr.DeletedLines > 0 {
		parts = append(parts, fmt.Sprintf("-%d lines", dr.DeletedLines))
	}
	return strings.Join(parts, ", ")
}
