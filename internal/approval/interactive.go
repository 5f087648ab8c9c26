// Package approval implements the surfaces a batch confirmation can go
// through: an interactive terminal prompt for the CLI, and auto approve /
// reject handlers for servers and tests.
package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"foreman/internal/agent/ports"
)

// Interactive prompts the operator on the terminal for each pending batch.
type Interactive struct {
	timeout      time.Duration
	colorEnabled bool
	in           io.Reader
	out          io.Writer
}

// InteractiveOption customizes an Interactive approver.
type InteractiveOption func(*Interactive)

// WithStreams overrides stdin/stdout, used by tests.
func WithStreams(in io.Reader, out io.Writer) InteractiveOption {
	return func(a *Interactive) {
		a.in = in
		a.out = out
	}
}

// NewInteractive builds a terminal approver. A zero timeout disables the
// approver's own deadline; the executor still applies its wait window.
func NewInteractive(timeout time.Duration, colorEnabled bool, opts ...InteractiveOption) *Interactive {
	a := &Interactive{
		timeout:      timeout,
		colorEnabled: colorEnabled,
		in:           os.Stdin,
		out:          os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RequestApproval renders the batch and reads a y/N answer. Timeout and EOF
// both count as rejection; the first answer wins.
func (a *Interactive) RequestApproval(ctx context.Context, batch ports.PendingActionBatch) (ports.ApprovalDecision, error) {
	a.render(batch)

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	answers := make(chan ports.ApprovalDecision, 1)
	go func() {
		answers <- a.prompt()
	}()

	select {
	case decision := <-answers:
		return decision, nil
	case <-ctx.Done():
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, a.colorize("No answer, batch rejected", color.FgRed))
		return ports.ApprovalDenied, nil
	}
}

func (a *Interactive) render(batch ports.PendingActionBatch) {
	sep := strings.Repeat("=", 72)

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, a.colorize(sep, color.FgCyan))
	fmt.Fprintln(a.out, a.colorize(batch.Description, color.FgYellow, color.Bold))
	fmt.Fprintln(a.out, a.colorize(sep, color.FgCyan))

	for i, action := range batch.Actions {
		fmt.Fprintln(a.out)
		switch action.Kind {
		case ports.ActionWrite:
			fmt.Fprintln(a.out, a.colorize(fmt.Sprintf("%d. write %s", i+1, action.Path), color.FgWhite, color.Bold))
			if action.Preview != "" {
				fmt.Fprintln(a.out, action.Preview)
			}
		case ports.ActionDelete:
			fmt.Fprintln(a.out, a.colorize(fmt.Sprintf("%d. delete %s", i+1, action.Path), color.FgRed, color.Bold))
		case ports.ActionExecute:
			fmt.Fprintln(a.out, a.colorize(fmt.Sprintf("%d. run: %s", i+1, action.Command), color.FgWhite, color.Bold))
		}
	}
	fmt.Fprintln(a.out, a.colorize(sep, color.FgCyan))
}

func (a *Interactive) prompt() ports.ApprovalDecision {
	reader := bufio.NewReader(a.in)
	for {
		fmt.Fprint(a.out, a.colorize("Apply these actions? [y/N] ", color.FgYellow))
		line, err := reader.ReadString('\n')
		if err != nil {
			return ports.ApprovalDenied
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "y", "yes":
			return ports.ApprovalGranted
		case "n", "no", "":
			return ports.ApprovalDenied
		default:
			fmt.Fprintln(a.out, a.colorize("Please answer y or n.", color.FgRed))
		}
	}
}

func (a *Interactive) colorize(text string, attrs ...color.Attribute) string {
	if !a.colorEnabled {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// AutoApprove grants every batch. For servers running with a pre-authorized
// policy and for tests.
type AutoApprove struct{}

func (AutoApprove) RequestApproval(context.Context, ports.PendingActionBatch) (ports.ApprovalDecision, error) {
	return ports.ApprovalGranted, nil
}

// AutoReject denies every batch.
type AutoReject struct{}

func (AutoReject) RequestApproval(context.Context, ports.PendingActionBatch) (ports.ApprovalDecision, error) {
	return ports.ApprovalDenied, nil
}

var (
	_ ports.ApprovalHandler = (*Interactive)(nil)
	_ ports.ApprovalHandler = AutoApprove{}
	_ ports.ApprovalHandler = AutoReject{}
)
