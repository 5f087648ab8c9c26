// Package tools maintains the registry of capability adapters exposed to
// workers: filesystem, shell, version control, package manager, and web
// fetch. The registry is a closed dispatch surface; workers only ever reach
// adapters through it.
package tools

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"foreman/internal/agent/ports"
	"foreman/internal/logging"
	"foreman/internal/security"
	"foreman/internal/tools/builtin"
)

// WorkerBound is implemented by adapters whose behavior depends on the
// executing worker (the shell adapter resolves its security policy by worker
// identity). The executor binds and caches one instance per worker.
type WorkerBound interface {
	BindWorker(worker string) ports.Tool
}

// Options configures the built-in adapters.
type Options struct {
	WorkspaceRoot string
	Policies      *security.PolicyRegistry
	HTTPClient    *http.Client
	ShellTimeout  time.Duration
	Logger        logging.Logger
}

// Registry implements ports.ToolRegistry with a static tier for built-in
// adapters and a dynamic tier for caller-registered tools.
type Registry struct {
	static  map[string]ports.Tool
	dynamic map[string]ports.Tool
	mu      sync.RWMutex
}

// NewRegistry builds a registry with every built-in adapter registered.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		static:  make(map[string]ports.Tool),
		dynamic: make(map[string]ports.Tool),
	}
	r.registerBuiltins(opts)
	return r
}

// Register adds a dynamic tool. Built-in names cannot be shadowed.
func (r *Registry) Register(tool ports.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Metadata().Name
	if _, exists := r.static[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.dynamic[name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (ports.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.static[name]; ok {
		return tool, nil
	}
	if tool, ok := r.dynamic[name]; ok {
		return tool, nil
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

// List returns all available tool definitions.
func (r *Registry) List() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.static)+len(r.dynamic))
	for _, tool := range r.static {
		defs = append(defs, tool.Definition())
	}
	for _, tool := range r.dynamic {
		defs = append(defs, tool.Definition())
	}
	return defs
}

// Unregister removes a dynamic tool. Built-ins stay.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.static[name]; ok {
		return fmt.Errorf("cannot unregister built-in tool: %s", name)
	}
	delete(r.dynamic, name)
	return nil
}

func (r *Registry) registerBuiltins(opts Options) {
	logger := logging.OrNop(opts.Logger)
	policies := opts.Policies
	if policies == nil {
		policies = security.NewPolicyRegistry()
	}

	// Filesystem
	r.static["file_read"] = builtin.NewFileRead(opts.WorkspaceRoot)
	r.static["file_write"] = builtin.NewFileWrite(opts.WorkspaceRoot)
	r.static["list_files"] = builtin.NewListFiles(opts.WorkspaceRoot)

	// Shell, gated by the security validator
	r.static["shell"] = builtin.NewShell(builtin.ShellConfig{
		WorkspaceRoot: opts.WorkspaceRoot,
		Policies:      policies,
		Timeout:       opts.ShellTimeout,
		Logger:        logger,
	})

	// Version control
	r.static["git"] = builtin.NewGit(opts.WorkspaceRoot, logger)

	// Package manager
	r.static["package"] = builtin.NewPackageManager(opts.WorkspaceRoot, logger)

	// Web fetch (explorer only, filtered per worker)
	r.static["web_fetch"] = builtin.NewWebFetch(builtin.WebFetchConfig{
		HTTPClient: opts.HTTPClient,
		Logger:     logger,
	})
}

// workerExclusions lists tools hidden from each worker. Web fetch is an
// explorer capability; everything else is shared.
func workerExclusions(worker string) map[string]struct{} {
	if worker == ports.WorkerExplorer {
		return nil
	}
	return map[string]struct{}{"web_fetch": {}}
}

// ForWorker returns a filtered registry view for one worker.
func (r *Registry) ForWorker(worker string) ports.ToolRegistry {
	excluded := workerExclusions(worker)
	if len(excluded) == 0 {
		return r
	}
	return &filteredRegistry{parent: r, excluded: excluded}
}

// filteredRegistry hides a fixed set of tool names from one worker.
type filteredRegistry struct {
	parent   *Registry
	excluded map[string]struct{}
}

func (f *filteredRegistry) Register(tool ports.Tool) error {
	if _, hidden := f.excluded[tool.Metadata().Name]; hidden {
		return fmt.Errorf("tool %s is not available in this view", tool.Metadata().Name)
	}
	return f.parent.Register(tool)
}

func (f *filteredRegistry) Get(name string) (ports.Tool, error) {
	if _, hidden := f.excluded[name]; hidden {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return f.parent.Get(name)
}

func (f *filteredRegistry) List() []ports.ToolDefinition {
	all := f.parent.List()
	defs := make([]ports.ToolDefinition, 0, len(all))
	for _, def := range all {
		if _, hidden := f.excluded[def.Name]; hidden {
			continue
		}
		defs = append(defs, def)
	}
	return defs
}

func (f *filteredRegistry) Unregister(name string) error {
	return f.parent.Unregister(name)
}
