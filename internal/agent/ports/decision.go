package ports

import "fmt"

// DecisionKind tags the routing choice. Exactly one variant of Decision is
// populated per kind.
type DecisionKind string

const (
	// DecideDelegate hands the request to a single worker.
	DecideDelegate DecisionKind = "delegate"

	// DecideDecompose splits the request into ordered subtasks.
	DecideDecompose DecisionKind = "decompose"

	// DecideDirect answers without involving a worker.
	DecideDirect DecisionKind = "direct"
)

// Decision is the routing verdict for one request.
type Decision struct {
	Kind        DecisionKind `json:"action"`
	TargetAgent string       `json:"target_agent,omitempty"`
	Reasoning   string       `json:"reasoning,omitempty"`
	Subtasks    []Subtask    `json:"subtasks,omitempty"`
}

// Subtask is one unit of a decomposed request. DependsOn holds indices of
// subtasks that must complete first; dependencies execute strictly before
// dependents.
type Subtask struct {
	Agent     string `json:"agent"`
	Task      string `json:"task"`
	DependsOn []int  `json:"depends_on,omitempty"`
}

// Validate enforces the tagged-union shape: exactly one variant populated,
// known workers only, dependency indices referring strictly backward.
func (d Decision) Validate() error {
	switch d.Kind {
	case DecideDelegate:
		if d.TargetAgent == "" {
			return fmt.Errorf("delegate decision missing target agent")
		}
		if !KnownWorker(d.TargetAgent) {
			return fmt.Errorf("delegate decision names unknown agent %q", d.TargetAgent)
		}
		if len(d.Subtasks) != 0 {
			return fmt.Errorf("delegate decision must not carry subtasks")
		}
	case DecideDecompose:
		if len(d.Subtasks) == 0 {
			return fmt.Errorf("decompose decision has no subtasks")
		}
		for i, st := range d.Subtasks {
			if !KnownWorker(st.Agent) {
				return fmt.Errorf("subtask %d names unknown agent %q", i, st.Agent)
			}
			if st.Task == "" {
				return fmt.Errorf("subtask %d has an empty task", i)
			}
			for _, dep := range st.DependsOn {
				if dep < 0 || dep >= i {
					return fmt.Errorf("subtask %d depends on invalid index %d", i, dep)
				}
			}
		}
	case DecideDirect:
		if d.TargetAgent != "" || len(d.Subtasks) != 0 {
			return fmt.Errorf("direct decision must not carry a target or subtasks")
		}
	default:
		return fmt.Errorf("unknown decision action %q", d.Kind)
	}
	return nil
}
