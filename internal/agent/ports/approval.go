package ports

import (
	"context"
	"time"
)

// BatchStatus is the lifecycle state of a PendingActionBatch. Terminal states
// are final; a batch transitions out of pending exactly once.
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchApproved BatchStatus = "approved"
	BatchRejected BatchStatus = "rejected"
)

// ActionKind classifies a proposed mutating action.
type ActionKind string

const (
	ActionWrite   ActionKind = "write"
	ActionDelete  ActionKind = "delete"
	ActionExecute ActionKind = "execute"
)

// ProposedAction is one mutating action awaiting approval. Preview carries a
// rendered diff for writes and the command line for executions.
type ProposedAction struct {
	Kind    ActionKind `json:"kind"`
	Path    string     `json:"path,omitempty"`
	Command string     `json:"command,omitempty"`
	Preview string     `json:"preview,omitempty"`
}

// PendingActionBatch groups mutating actions submitted for one approval
// round. Actions are immutable after creation.
type PendingActionBatch struct {
	ID          string           `json:"id"`
	Agent       string           `json:"agent"`
	Actions     []ProposedAction `json:"actions"`
	Description string           `json:"description"`
	CreatedAt   time.Time        `json:"created_at"`
	Status      BatchStatus      `json:"status"`
}

// ApprovalDecision is the terminal signal from an approval surface.
type ApprovalDecision string

const (
	ApprovalGranted ApprovalDecision = "approved"
	ApprovalDenied  ApprovalDecision = "rejected"
)

// ApprovalHandler is the external approval surface. RequestApproval blocks
// until a terminal decision, the handler's own timeout, or ctx cancellation;
// callers treat errors and timeouts as denial.
type ApprovalHandler interface {
	RequestApproval(ctx context.Context, batch PendingActionBatch) (ApprovalDecision, error)
}
