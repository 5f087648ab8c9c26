package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"foreman/internal/agent/ports"
)

// printer renders the event stream for a terminal. It returns the final
// summary content so the caller can persist it to the session.
type printer struct {
	out     io.Writer
	verbose bool

	status  *color.Color
	errTint *color.Color
	okTint  *color.Color
	dim     *color.Color

	streaming bool
}

func newPrinter(out io.Writer, colorEnabled, verbose bool) *printer {
	p := &printer{
		out:     out,
		verbose: verbose,
		status:  color.New(color.FgCyan),
		errTint: color.New(color.FgRed, color.Bold),
		okTint:  color.New(color.FgGreen),
		dim:     color.New(color.Faint),
	}
	if !colorEnabled {
		for _, c := range []*color.Color{p.status, p.errTint, p.okTint, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

// drain consumes the stream until it closes and returns the summary text and
// whether the request failed.
func (p *printer) drain(events <-chan ports.Event) (string, bool) {
	var summary string
	failed := false
	for ev := range events {
		switch e := ev.(type) {
		case ports.StatusEvent:
			p.endStream()
			p.status.Fprintf(p.out, "[%s] %s\n", e.Worker, e.Status)
		case ports.ChunkEvent:
			fmt.Fprint(p.out, e.Content)
			p.streaming = true
		case ports.ToolEvent:
			p.endStream()
			if e.Success {
				if p.verbose {
					p.dim.Fprintf(p.out, "  %s ok (%dms)\n", e.Tool, e.DurationMs)
				}
			} else {
				p.errTint.Fprintf(p.out, "  %s failed: %s\n", e.Tool, e.Error)
			}
		case ports.SummaryEvent:
			p.endStream()
			summary = e.Content
			if strings.TrimSpace(e.Content) != "" {
				fmt.Fprintln(p.out, e.Content)
			}
			if e.Errors > 0 {
				p.errTint.Fprintln(p.out, ports.FormatCounts(e.Errors, e.Warnings))
			} else if e.Warnings > 0 {
				p.status.Fprintln(p.out, ports.Pluralize(e.Warnings, "warning"))
			}
		case ports.ErrorEvent:
			p.endStream()
			failed = true
			summary = e.Message
			p.errTint.Fprintf(p.out, "error: %s\n", e.Message)
		case ports.DoneEvent:
			p.endStream()
			if !failed {
				p.okTint.Fprintln(p.out, "done")
			}
		}
	}
	p.endStream()
	return summary, failed
}

// endStream terminates an in-progress chunk line before other output.
func (p *printer) endStream() {
	if p.streaming {
		fmt.Fprintln(p.out)
		p.streaming = false
	}
}
