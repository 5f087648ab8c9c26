package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"foreman/internal/agent/ports"
	"foreman/internal/diff"
)

// confirmBatch runs the approval workflow for a batch when the control mode
// demands it. It returns (nil, true) when execution may proceed, or a
// fully populated rejection map and false when it may not. Exactly one
// terminal signal is honored; anything arriving after the wait timeout is
// ignored.
func (e *Executor) confirmBatch(ctx context.Context, workerID string, reqs []ports.ToolCallRequest, control ControlMode) (map[string]ports.ToolExecutionResult, bool) {
	if e.approver == nil {
		return nil, true
	}

	actions := e.proposeActions(workerID, reqs)
	if len(actions) == 0 {
		return nil, true
	}

	switch control {
	case ControlManual:
		// Every mutating batch needs confirmation.
	default:
		dangerous := false
		for _, a := range actions {
			if a.Kind == ports.ActionExecute || a.Kind == ports.ActionDelete {
				dangerous = true
				break
			}
		}
		if !dangerous {
			return nil, true
		}
	}

	batch := ports.PendingActionBatch{
		ID:          uuid.NewString(),
		Agent:       workerID,
		Actions:     actions,
		Description: describeBatch(workerID, actions),
		CreatedAt:   time.Now(),
		Status:      ports.BatchPending,
	}

	decision := e.awaitApproval(ctx, batch)
	if decision == ports.ApprovalGranted {
		e.metrics.RecordApproval("approved")
		return nil, true
	}
	e.metrics.RecordApproval("rejected")
	e.logger.Info("batch %s for %s rejected", batch.ID, workerID)

	rejected := make(map[string]ports.ToolExecutionResult, len(reqs))
	for _, req := range reqs {
		rejected[req.Key()] = ports.ToolExecutionResult{
			Success: false,
			Error:   "rejected by user",
		}
	}
	return rejected, false
}

// awaitApproval waits for the first terminal signal from the approval
// surface, bounded by the configured wait timeout. The buffered channel plus
// single select latch the outcome: a late or duplicate signal after the
// timeout has nowhere to land.
func (e *Executor) awaitApproval(ctx context.Context, batch ports.PendingActionBatch) ports.ApprovalDecision {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ApprovalTimeout)
	defer cancel()

	type signal struct {
		decision ports.ApprovalDecision
		err      error
	}
	ch := make(chan signal, 1)
	go func() {
		decision, err := e.approver.RequestApproval(waitCtx, batch)
		ch <- signal{decision: decision, err: err}
	}()

	select {
	case sig := <-ch:
		if sig.err != nil {
			e.logger.Warn("approval surface failed for batch %s: %v", batch.ID, sig.err)
			return ports.ApprovalDenied
		}
		return sig.decision
	case <-waitCtx.Done():
		e.logger.Warn("approval wait for batch %s timed out", batch.ID)
		return ports.ApprovalDenied
	}
}

// proposeActions derives the mutating actions in a batch. Non-mutating
// requests (reads, listings) never require approval.
func (e *Executor) proposeActions(workerID string, reqs []ports.ToolCallRequest) []ports.ProposedAction {
	var actions []ports.ProposedAction
	for _, req := range reqs {
		switch req.Name {
		case "file_write":
			path := req.StringInput("path")
			content, _ := req.Input["content"].(string)
			actions = append(actions, ports.ProposedAction{
				Kind:    ports.ActionWrite,
				Path:    path,
				Preview: e.writePreview(workerID, path, content),
			})
		case "shell":
			actions = append(actions, ports.ProposedAction{
				Kind:    ports.ActionExecute,
				Command: req.StringInput("command"),
			})
		case "package":
			actions = append(actions, ports.ProposedAction{
				Kind:    ports.ActionExecute,
				Command: strings.TrimSpace(req.StringInput("manager") + " " + req.StringInput("action") + " " + req.StringInput("args")),
			})
		case "git":
			sub := req.StringInput("subcommand")
			if mutatingGitSubcommand(sub) {
				actions = append(actions, ports.ProposedAction{
					Kind:    ports.ActionExecute,
					Command: strings.TrimSpace("git " + sub + " " + req.StringInput("args")),
				})
			}
		}
	}
	return actions
}

func mutatingGitSubcommand(sub string) bool {
	switch sub {
	case "status", "log", "diff", "show", "branch":
		return false
	}
	return true
}

// writePreview renders a diff between the file's current content and the
// proposed content. The old content is read through the worker's own
// file_read adapter so workspace confinement applies.
func (e *Executor) writePreview(workerID, path, content string) string {
	old := ""
	if reader, err := e.cache.Resolve(workerID, "file_read"); err == nil {
		res := reader.Execute(context.Background(), ports.ToolCallRequest{
			Name:  "file_read",
			Input: map[string]any{"path": path},
		})
		if res.Success {
			old = res.Output
		}
	}

	gen := diff.NewGenerator(3, false)
	result, err := gen.GenerateUnified(old, content, path)
	if err != nil || result.UnifiedDiff == "" {
		return fmt.Sprintf("write %d bytes to %s", len(content), path)
	}
	return result.UnifiedDiff
}

func describeBatch(workerID string, actions []ports.ProposedAction) string {
	writes, execs, deletes := 0, 0, 0
	for _, a := range actions {
		switch a.Kind {
		case ports.ActionWrite:
			writes++
		case ports.ActionExecute:
			execs++
		case ports.ActionDelete:
			deletes++
		}
	}
	parts := make([]string, 0, 3)
	if writes > 0 {
		parts = append(parts, fmt.Sprintf("%d write(s)", writes))
	}
	if execs > 0 {
		parts = append(parts, fmt.Sprintf("%d command(s)", execs))
	}
	if deletes > 0 {
		parts = append(parts, fmt.Sprintf("%d delete(s)", deletes))
	}
	return fmt.Sprintf("%s proposes %s", workerID, strings.Join(parts, ", "))
}
