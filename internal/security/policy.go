package security

import "sync"

// Mode selects how far validation goes beyond the unconditional checks.
type Mode string

const (
	// ModeStrict additionally requires the program to appear in the
	// whitelist.
	ModeStrict Mode = "strict"

	// ModePermissive skips the whitelist check. Blacklist and
	// dangerous-pattern checks still apply.
	ModePermissive Mode = "permissive"
)

// Policy scopes command validation for one worker. Policies are value types;
// handing a policy to the validator never shares state between workers.
type Policy struct {
	Mode                        Mode     `json:"mode" yaml:"mode" mapstructure:"mode"`
	AllowPipes                  bool     `json:"allow_pipes" yaml:"allow_pipes" mapstructure:"allow_pipes"`
	AllowRedirections           bool     `json:"allow_redirections" yaml:"allow_redirections" mapstructure:"allow_redirections"`
	AllowChaining               bool     `json:"allow_chaining" yaml:"allow_chaining" mapstructure:"allow_chaining"`
	AdditionalAllowedPrograms   []string `json:"additional_allowed_programs,omitempty" yaml:"additional_allowed_programs,omitempty" mapstructure:"additional_allowed_programs"`
	AdditionalForbiddenPatterns []string `json:"additional_forbidden_patterns,omitempty" yaml:"additional_forbidden_patterns,omitempty" mapstructure:"additional_forbidden_patterns"`
}

// DefaultPolicy is the fallback for workers without an explicit policy:
// permissive mode with every shell operator disabled.
func DefaultPolicy() Policy {
	return Policy{Mode: ModePermissive}
}

// StrictPolicy requires whitelisted programs and disables every operator.
func StrictPolicy() Policy {
	return Policy{Mode: ModeStrict}
}

// PolicyRegistry stores per-worker policies. Lookup for an unknown worker
// falls back to the default policy, never to another worker's entry.
type PolicyRegistry struct {
	mu       sync.RWMutex
	policies map[string]Policy
	fallback Policy
}

// NewPolicyRegistry creates a registry with DefaultPolicy as the fallback.
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{
		policies: make(map[string]Policy),
		fallback: DefaultPolicy(),
	}
}

// Set installs the policy for a worker.
func (r *PolicyRegistry) Set(worker string, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[worker] = policy
}

// Get returns the worker's policy or the fallback when none is set.
func (r *PolicyRegistry) Get(worker string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[worker]; ok {
		return p
	}
	return r.fallback
}

// Has reports whether the worker has an explicit policy.
func (r *PolicyRegistry) Has(worker string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.policies[worker]
	return ok
}

// Reset removes every worker-specific policy.
func (r *PolicyRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies = make(map[string]Policy)
}
